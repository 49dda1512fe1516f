package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"mriscale/api/dto"
	"mriscale/api/middleware"
	"mriscale/api/validation"
	"mriscale/jobs"
)

// Upload accepts one or more MRI volumes, stores them under a fresh job id,
// creates the preprocess job, and dispatches it. Dispatch failure still
// returns the job id: the record is pending and re-triggerable.
func (h *JobHandler) Upload(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())
	ownerID := middleware.GetPrincipal(r.Context())

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.handleError(w, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}

	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = r.MultipartForm.File["files"]
	}
	if len(headers) == 0 {
		h.handleError(w, "No files provided", validation.ErrNoFiles, traceID, http.StatusBadRequest)
		return
	}

	jobID := newJobID()
	inputFiles := make([]string, 0, len(headers))

	for _, header := range headers {
		path, err := h.saveUpload(jobID, header)
		if err != nil {
			// Remove anything already written for this half-created job.
			if cleanupErr := h.files.RemoveJob(jobID); cleanupErr != nil {
				h.logger.Warn("upload cleanup failed",
					zap.String("job_id", jobID),
					zap.Error(cleanupErr),
				)
			}
			h.handleError(w, "Invalid file: "+header.Filename, err, traceID, http.StatusBadRequest)
			return
		}
		inputFiles = append(inputFiles, path)
	}

	job, err := h.service.CreatePreprocessJob(r.Context(), ownerID, jobID, inputFiles)
	if err != nil {
		// A DispatchError keeps the artifacts: the record exists, pending,
		// and re-triggerable. Any other failure means no record was created,
		// so the stored files would be orphans.
		var de *jobs.DispatchError
		if !errors.As(err, &de) {
			if cleanupErr := h.files.RemoveJob(jobID); cleanupErr != nil {
				h.logger.Warn("upload cleanup failed",
					zap.String("job_id", jobID),
					zap.Error(cleanupErr),
				)
			}
		}
		h.mapError(w, err, traceID, job)
		return
	}

	h.logger.Info("Files uploaded",
		zap.String("trace_id", traceID),
		zap.String("job_id", job.ID),
		zap.Int("files", len(inputFiles)),
	)

	h.respondJSON(w, http.StatusCreated, dto.UploadResponse{
		JobID:         job.ID,
		Status:        string(job.Status),
		FilesUploaded: len(inputFiles),
		Message:       "Files uploaded successfully. Preprocessing started.",
	})
}

func (h *JobHandler) saveUpload(jobID string, header *multipart.FileHeader) (string, error) {
	if header.Size > h.maxFileSize {
		return "", validation.ErrFileTooLarge
	}
	if !validation.IsAllowedFilename(header.Filename) {
		return "", validation.ErrInvalidFileType
	}

	file, err := header.Open()
	if err != nil {
		return "", err
	}
	defer file.Close()

	fileType, err := validation.DetectFileType(file)
	if err != nil {
		return "", err
	}
	if !validation.MatchesExtension(fileType, header.Filename) {
		return "", validation.ErrExtensionMismatch
	}

	return h.files.Save(jobID, header.Filename, file)
}
