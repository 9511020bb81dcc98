package api

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	commonauth "market_files/server/common/auth"
	commonlog "market_files/server/common/log"
	"market_files/server/common/middleware"
	"market_files/server/common/transport/httpresp"
	"market_files/server/fileman/domain"
	"market_files/server/fileman/service"
)

const (
	// multipartEnvelope is the allowance for form fields and part headers on
	// top of the largest accepted file.
	multipartEnvelope = 1 << 20
	maxFieldBytes     = 256
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Handler struct {
	files    *service.FileService
	listings *service.ListingService
	users    *service.UserService
	auth     *commonauth.Service
	checks   map[string]ReadinessCheck
}

func NewHandler(
	files *service.FileService,
	listings *service.ListingService,
	users *service.UserService,
	auth *commonauth.Service,
	checks map[string]ReadinessCheck,
) *Handler {
	return &Handler{files: files, listings: listings, users: users, auth: auth, checks: checks}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.live)
	r.GET("/health/live", h.live)
	r.GET("/health/ready", h.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/users", h.register)
	api.POST("/users/login", h.login)

	authed := api.Group("")
	authed.Use(middleware.AuthRequired(h.auth))
	{
		authed.GET("/users/profile", h.profile)
		authed.POST("/services",
			middleware.RequireRoles(string(domain.UserRoleProvider), string(domain.UserRoleAdmin)),
			h.createService,
		)
		authed.GET("/services/:id", h.getService)
		authed.POST("/files", h.uploadFile)
		authed.DELETE("/files/:id", h.deleteFile)
		authed.PATCH("/files/:id/metadata", h.updateMetadata)
		authed.GET("/files/service/:serviceId", h.listFiles)
	}
}

func (h *Handler) live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := make([]string, 0)
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			commonlog.Warnf("readiness check %s: %v", name, err)
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "failed": failed})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *Handler) register(c *gin.Context) {
	var req struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required,min=6"`
		Role     string `json:"role" binding:"omitempty,oneof=user provider"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	session, err := h.users.Register(c.Request.Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     domain.UserRole(req.Role),
	})
	if err != nil {
		writeError(c, err, httpresp.ErrNotFound, httpresp.ErrForbidden)
		return
	}
	c.JSON(http.StatusCreated, tokenResponse(session))
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	session, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, err, httpresp.ErrNotFound, httpresp.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, tokenResponse(session))
}

func (h *Handler) profile(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	user, err := h.users.Profile(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, httpresp.ErrNotFound, httpresp.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) createService(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	var req struct {
		Title    string `json:"title" binding:"required"`
		Category string `json:"category" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	item, err := h.listings.Create(c.Request.Context(), userID, req.Title, domain.ServiceCategory(req.Category))
	if err != nil {
		writeError(c, err, httpresp.ErrServiceNotFound, httpresp.ErrNotOwnerOfService)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) getService(c *gin.Context) {
	item, err := h.listings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, httpresp.ErrServiceNotFound, httpresp.ErrNotOwnerOfService)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) uploadFile(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}

	policy := h.files.Policy()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, policy.Ceiling()+multipartEnvelope)

	form, err := readUploadForm(c.Request, policy)
	if err != nil {
		writeUploadError(c, err)
		return
	}
	if !form.hasFile {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrFileRequired))
		return
	}
	if form.serviceID == "" {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("serviceId is required"))
		return
	}

	file, err := h.files.Ingest(c.Request.Context(), service.IngestRequest{
		Blob:     form.blob,
		OwnerID:  userID,
		ParentID: form.serviceID,
	})
	if err != nil {
		writeError(c, err, httpresp.ErrServiceNotFound, httpresp.ErrNotOwnerOfService)
		return
	}
	c.JSON(http.StatusCreated, file)
}

func (h *Handler) deleteFile(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	if _, err := h.files.Retract(c.Request.Context(), c.Param("id"), userID); err != nil {
		writeError(c, err, httpresp.ErrFileNotFound, httpresp.ErrNotOwnerOfFile)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewMessageResponse(httpresp.MsgFileDeleted))
}

func (h *Handler) updateMetadata(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	var req struct {
		Metadata map[string]string `json:"metadata" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	file, err := h.files.UpdateMetadata(c.Request.Context(), c.Param("id"), userID, req.Metadata)
	if err != nil {
		writeError(c, err, httpresp.ErrFileNotFound, httpresp.ErrNotOwnerOfFile)
		return
	}
	c.JSON(http.StatusOK, file)
}

func (h *Handler) listFiles(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	files, err := h.files.ListForParent(c.Request.Context(), c.Param("serviceId"), userID)
	if err != nil {
		writeError(c, err, httpresp.ErrServiceNotFound, httpresp.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, files)
}

type uploadForm struct {
	serviceID string
	blob      service.Blob
	hasFile   bool
}

// readUploadForm streams the multipart body. Parts may come in any order;
// only the first "file" part is kept.
func readUploadForm(r *http.Request, policy service.UploadPolicy) (uploadForm, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return uploadForm{}, err
	}

	var form uploadForm
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return form, nil
		}
		if err != nil {
			return uploadForm{}, err
		}

		switch part.FormName() {
		case "serviceId":
			raw, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			if err != nil {
				return uploadForm{}, err
			}
			form.serviceID = strings.TrimSpace(string(raw))
		case "file":
			if form.hasFile {
				break
			}
			blob, err := readFilePart(part, policy)
			if err != nil {
				return uploadForm{}, err
			}
			form.blob = blob
			form.hasFile = true
		}
		_ = part.Close()
	}
}

// readFilePart rejects an unsupported type from the part headers alone and
// never buffers more than the type's bound plus one byte.
func readFilePart(part *multipart.Part, policy service.UploadPolicy) (service.Blob, error) {
	contentType := part.Header.Get("Content-Type")
	bound, ok := policy.Bound(contentType)
	if !ok {
		return service.Blob{}, policy.Validate(contentType, 0)
	}
	data, err := io.ReadAll(io.LimitReader(part, bound+1))
	if err != nil {
		return service.Blob{}, err
	}
	if int64(len(data)) > bound {
		return service.Blob{}, policy.Validate(contentType, int64(len(data)))
	}
	return service.Blob{
		Name:        part.FileName(),
		ContentType: contentType,
		Data:        data,
	}, nil
}

func tokenResponse(session service.Session) httpresp.TokenResponse {
	u := session.User
	return httpresp.NewTokenResponse(u.ID, u.Name, u.Email, string(u.Role), session.Token)
}

func writeUploadError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrUnsupportedMediaType), errors.Is(err, domain.ErrPayloadTooLarge):
		writeError(c, err, httpresp.ErrServiceNotFound, httpresp.ErrNotOwnerOfService)
	case errors.As(err, &tooLarge):
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrPayloadTooLarge))
	case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrFileRequired))
	default:
		commonlog.Warnf("read upload: %v", err)
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrIncompleteUpload))
	}
}

// writeError maps domain errors onto status codes. notFound and forbidden
// name the resource the route is about.
func writeError(c *gin.Context, err error, notFound, forbidden string) {
	switch {
	case errors.Is(err, domain.ErrUnsupportedMediaType):
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrUnsupportedMediaType))
	case errors.Is(err, domain.ErrPayloadTooLarge):
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrPayloadTooLarge))
	case errors.Is(err, domain.ErrDuplicateFile):
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrDuplicateFile))
	case errors.Is(err, domain.ErrIncompleteUpload):
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrIncompleteUpload))
	case errors.Is(err, domain.ErrEmailTaken):
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrEmailTaken))
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
	case errors.Is(err, domain.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidCredentials))
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, httpresp.NewErrorResponse(forbidden))
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(notFound))
	case errors.Is(err, domain.ErrStorageUnavailable):
		commonlog.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusServiceUnavailable, httpresp.NewErrorResponse(httpresp.ErrStorageUnavailable))
	default:
		commonlog.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(httpresp.ErrInternal))
	}
}
