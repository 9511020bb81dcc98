package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"market_files/server/fileman/domain"
	"market_files/server/fileman/repository"
)

const maxServiceTitleLen = 200

// ListingService manages the marketplace services files are attached to.
type ListingService struct {
	directory repository.ServiceDirectory
}

func NewListingService(directory repository.ServiceDirectory) *ListingService {
	return &ListingService{directory: directory}
}

func (s *ListingService) Create(ctx context.Context, ownerID, title string, category domain.ServiceCategory) (domain.Service, error) {
	title = strings.TrimSpace(title)
	if ownerID == "" {
		return domain.Service{}, fmt.Errorf("%w: owner is required", domain.ErrValidation)
	}
	if title == "" || utf8.RuneCountInString(title) > maxServiceTitleLen {
		return domain.Service{}, fmt.Errorf("%w: title must be 1-%d characters", domain.ErrValidation, maxServiceTitleLen)
	}
	category = domain.ServiceCategory(strings.ToLower(strings.TrimSpace(string(category))))
	if !category.Valid() {
		return domain.Service{}, fmt.Errorf("%w: unknown category %q", domain.ErrValidation, category)
	}

	item := domain.Service{ID: uuid.NewString(), OwnerID: ownerID, Title: title, Category: category}
	if err := s.directory.Create(ctx, &item); err != nil {
		return domain.Service{}, err
	}
	return item, nil
}

func (s *ListingService) Get(ctx context.Context, id string) (domain.Service, error) {
	return s.directory.Get(ctx, id)
}
