package handlers

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zignalhq/zignal-backend/internal/http/response"
	pkgerrors "github.com/zignalhq/zignal-backend/internal/pkg/errors"
	"github.com/zignalhq/zignal-backend/internal/platform/logger"
	"github.com/zignalhq/zignal-backend/internal/services"
	"github.com/zignalhq/zignal-backend/internal/types"
)

const maxUploadBytes = 512 << 20

type FileHandler struct {
	log   *logger.Logger
	files services.FileService
}

func NewFileHandler(log *logger.Logger, files services.FileService) *FileHandler {
	return &FileHandler{
		log:   log.With("handler", "FileHandler"),
		files: files,
	}
}

type fileRecordView struct {
	ID           uuid.UUID  `json:"id"`
	OriginalName string     `json:"original_name"`
	MimeType     string     `json:"mime_type,omitempty"`
	SizeBytes    int64      `json:"size_bytes"`
	Status       string     `json:"status"`
	StorageKey   string     `json:"storage_key"`
	FileURL      string     `json:"file_url,omitempty"`
	CompanyID    *uuid.UUID `json:"company_id,omitempty"`
	ProjectID    *uuid.UUID `json:"project_id,omitempty"`
	FolderID     *uuid.UUID `json:"folder_id,omitempty"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"last_error,omitempty"`
}

func viewOf(r *types.FileRecord) fileRecordView {
	return fileRecordView{
		ID:           r.ID,
		OriginalName: r.OriginalName,
		MimeType:     r.MimeType,
		SizeBytes:    r.SizeBytes,
		Status:       string(r.Status),
		StorageKey:   r.StorageKey,
		FileURL:      r.FileURL,
		CompanyID:    r.CompanyID,
		ProjectID:    r.ProjectID,
		FolderID:     r.FolderID,
		Attempts:     r.Attempts,
		LastError:    r.LastError,
	}
}

// Upload accepts a multipart form with a "file" part and one tenant link
// field: company_id, project_id or folder_id.
func (h *FileHandler) Upload(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_multipart_form", err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	if fileHeader.Size > maxUploadBytes {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "file_too_large", nil)
		return
	}

	companyID, err := optionalUUIDField(c, "company_id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_company_id", err)
		return
	}
	projectID, err := optionalUUIDField(c, "project_id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_project_id", err)
		return
	}
	folderID, err := optionalUUIDField(c, "folder_id")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_folder_id", err)
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	defer src.Close()

	record, err := h.files.Upload(c.Request.Context(), services.UploadFileInput{
		OriginalName: fileHeader.Filename,
		MimeType:     detectMimeType(fileHeader.Filename, fileHeader.Header.Get("Content-Type")),
		CompanyID:    companyID,
		ProjectID:    projectID,
		FolderID:     folderID,
		Body:         src,
		Size:         fileHeader.Size,
	})
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidArgument) {
			response.RespondError(c, http.StatusBadRequest, "invalid_upload", err)
			return
		}
		h.log.Error("Upload failed", "filename", fileHeader.Filename, "error", err.Error())
		response.RespondError(c, http.StatusInternalServerError, "upload_failed", err)
		return
	}

	response.RespondAccepted(c, viewOf(record))
}

func (h *FileHandler) Get(c *gin.Context) {
	fileID, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_file_id", err)
		return
	}

	record, err := h.files.Get(c.Request.Context(), fileID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "file_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "file_lookup_failed", err)
		return
	}

	response.RespondOK(c, viewOf(record))
}

func (h *FileHandler) Retry(c *gin.Context) {
	fileID, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_file_id", err)
		return
	}

	record, err := h.files.Retry(c.Request.Context(), fileID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "file_not_found", err)
			return
		}
		if errors.Is(err, pkgerrors.ErrInvalidArgument) {
			response.RespondError(c, http.StatusConflict, "file_not_retryable", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "retry_failed", err)
		return
	}

	response.RespondAccepted(c, viewOf(record))
}

func optionalUUIDField(c *gin.Context, field string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(c.PostForm(field))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func detectMimeType(filename, headerType string) string {
	if headerType != "" && headerType != "application/octet-stream" {
		return headerType
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
