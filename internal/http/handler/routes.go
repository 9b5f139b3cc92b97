package handler

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"tensorbin/internal/http/middleware"
	"tensorbin/internal/service"
)

const defaultPresignExpiry = 15 * time.Minute

// RegisterRoutes attaches HTTP routes to the provided Fiber app. Handlers
// stay thin: parse, delegate to the service, translate errors.
func RegisterRoutes(app *fiber.App, db *sql.DB, objSvc service.ObjectService, jwtSecret string) {
	// Serve OpenAPI spec and Swagger UI
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.SendFile("openapi.yaml")
	})
	app.Get("/docs", func(c *fiber.Ctx) error {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
		return c.Type("html").SendString(html)
	})

	// Health endpoint: checks DB connectivity only
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	})

	// Simple liveness probe
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	files := app.Group("/files", middleware.Auth(jwtSecret))

	// Upload (multipart/form-data: file, optional tags CSV, optional title)
	files.Post("/", func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		var title *string
		if v := strings.TrimSpace(c.FormValue("title")); v != "" {
			title = &v
		}

		obj, err := objSvc.Upload(c.UserContext(), middleware.TenantID(c), f, service.UploadParams{
			Filename:     fh.Filename,
			ContentType:  fh.Header.Get("Content-Type"),
			DeclaredSize: fh.Size,
			Title:        title,
			Tags:         splitCSV(c.FormValue("tags")),
		})
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(obj)
	})

	// List with page/per_page
	files.Get("/", func(c *fiber.Ctx) error {
		page, perPage, err := pageParams(c)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_PAGINATION", "invalid pagination parameters")
		}
		res, err := objSvc.List(c.UserContext(), middleware.TenantID(c), page, perPage)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	})

	// Search: free text, tags CSV (AND semantics), mime_type prefix
	files.Get("/search", func(c *fiber.Ctx) error {
		page, perPage, err := pageParams(c)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_PAGINATION", "invalid pagination parameters")
		}
		res, err := objSvc.Search(c.UserContext(), middleware.TenantID(c), service.SearchParams{
			Text:       c.Query("query"),
			Tags:       splitCSV(c.Query("tags")),
			MimePrefix: c.Query("mime_type"),
			Page:       page,
			PerPage:    perPage,
		})
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	})

	// Get by ID
	files.Get("/:id", func(c *fiber.Ctx) error {
		id, err := objectID(c)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		obj, err := objSvc.Get(c.UserContext(), middleware.TenantID(c), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(obj)
	})

	// Download: streams the bytes and bumps the download counter
	files.Get("/:id/download", func(c *fiber.Ctx) error {
		id, err := objectID(c)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		rc, obj, err := objSvc.Download(c.UserContext(), middleware.TenantID(c), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		c.Set(fiber.HeaderContentType, obj.MimeType)
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", obj.OriginalFilename))
		return c.SendStream(rc, int(obj.SizeBytes))
	})

	// Presigned URL for credential-free direct delivery
	files.Get("/:id/url", func(c *fiber.Ctx) error {
		id, err := objectID(c)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		expiry := defaultPresignExpiry
		if v := c.Query("expiry_seconds"); v != "" {
			secs, err := strconv.Atoi(v)
			if err != nil || secs <= 0 {
				return writeError(c, fiber.StatusBadRequest, "INVALID_EXPIRY", "invalid expiry")
			}
			expiry = time.Duration(secs) * time.Second
		}
		url, err := objSvc.PresignDownload(c.UserContext(), middleware.TenantID(c), id, expiry)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"url": url, "expires_in": int(expiry.Seconds())})
	})

	// Delete by ID
	files.Delete("/:id", func(c *fiber.Ctx) error {
		id, err := objectID(c)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		if err := objSvc.Delete(c.UserContext(), middleware.TenantID(c), id); err != nil {
			return writeServiceError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func objectID(c *fiber.Ctx) (string, error) {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", err
	}
	return id, nil
}

func pageParams(c *fiber.Ctx) (int, int, error) {
	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		return 0, 0, fmt.Errorf("invalid page")
	}
	perPage, err := strconv.Atoi(c.Query("per_page", "20"))
	if err != nil || perPage < 1 {
		return 0, 0, fmt.Errorf("invalid per_page")
	}
	return page, perPage, nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
