package handlers

import (
	"fmt"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/workorder-service/internal/domain"
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm)
}

// readPhotos loads the files sent under field. Reads stop one byte past
// maxBytes so oversized files are still rejected by the evidence policy
// without being buffered whole.
func readPhotos(c *fiber.Ctx, field string, maxBytes int64) ([]domain.PhotoUpload, error) {
	if !isMultipart(c) {
		return nil, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, apperrors.NewValidationError("invalid multipart form", nil)
	}
	headers := form.File[field]
	photos := make([]domain.PhotoUpload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, apperrors.NewInternalError(fmt.Errorf("open upload %s: %w", fh.Filename, err))
		}
		data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
		_ = f.Close()
		if err != nil {
			return nil, apperrors.NewInternalError(fmt.Errorf("read upload %s: %w", fh.Filename, err))
		}
		photos = append(photos, domain.PhotoUpload{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get(fiber.HeaderContentType),
			Data:        data,
		})
	}
	return photos, nil
}
