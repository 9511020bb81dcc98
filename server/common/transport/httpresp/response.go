package httpresp

const (
	ErrUnauthorized         = "unauthorized"
	ErrInvalidCredentials   = "invalid email or password"
	ErrMissingBearerToken   = "bearer token is required"
	ErrInvalidToken         = "invalid token"
	ErrForbidden            = "you are not allowed to access this resource"
	ErrInsufficientRole     = "you do not have permission to perform this action"
	ErrNotOwnerOfService    = "you are not the owner of this service"
	ErrNotOwnerOfFile       = "you are not the owner of this file"
	ErrServiceNotFound      = "service not found"
	ErrFileNotFound         = "file not found"
	ErrNotFound             = "resource not found"
	ErrFileRequired         = "no file was uploaded"
	ErrUnsupportedMediaType = "file type is not supported"
	ErrPayloadTooLarge      = "file size exceeds the allowed limit"
	ErrDuplicateFile        = "this file has already been uploaded"
	ErrIncompleteUpload     = "upload was incomplete"
	ErrStorageUnavailable   = "file storage is temporarily unavailable"
	ErrEmailTaken           = "user already exists"
	ErrInternal             = "internal server error"

	MsgFileDeleted = "file deleted successfully"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type TokenResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	Token string `json:"token"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewMessageResponse(message string) MessageResponse {
	return MessageResponse{Message: message}
}

func NewOKResponse() OKResponse {
	return OKResponse{OK: true}
}

func NewTokenResponse(id, name, email, role, token string) TokenResponse {
	return TokenResponse{ID: id, Name: name, Email: email, Role: role, Token: token}
}
