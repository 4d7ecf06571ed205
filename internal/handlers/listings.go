package handlers

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"cleartitle/internal/apperr"
	"cleartitle/internal/models"
	"cleartitle/internal/services"

	"github.com/gin-gonic/gin"
)

const (
	maxImagesPerListing = 10
	maxImageBytes       = 10 << 20
)

// listingPayload reads the listing fields from either a JSON body or a
// multipart form carrying a JSON "data" field and "images" files.
func (h *Handler) listingPayload(c *gin.Context) (map[string]any, []services.UploadFile, bool) {
	fields := map[string]any{}
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		if !h.bindJSON(c, &fields) {
			return nil, nil, false
		}
		return fields, nil, true
	}

	form, err := c.MultipartForm()
	if err != nil {
		h.respondError(c, apperr.Validation("invalid multipart form"))
		return nil, nil, false
	}
	if data := form.Value["data"]; len(data) > 0 && data[0] != "" {
		if err := json.Unmarshal([]byte(data[0]), &fields); err != nil {
			h.respondError(c, apperr.Validation("data must be a JSON object"))
			return nil, nil, false
		}
	}
	headers := form.File["images"]
	if len(headers) > maxImagesPerListing {
		h.respondError(c, apperr.Validation("at most %d images are allowed", maxImagesPerListing))
		return nil, nil, false
	}
	files := make([]services.UploadFile, 0, len(headers))
	for _, fh := range headers {
		file, err := readUpload(fh)
		if err != nil {
			h.respondError(c, err)
			return nil, nil, false
		}
		files = append(files, file)
	}
	return fields, files, true
}

func readUpload(fh *multipart.FileHeader) (services.UploadFile, error) {
	if fh.Size > maxImageBytes {
		return services.UploadFile{}, apperr.Validation("%s exceeds the %d MB limit", fh.Filename, maxImageBytes>>20)
	}
	f, err := fh.Open()
	if err != nil {
		return services.UploadFile{}, apperr.Upload(err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return services.UploadFile{}, apperr.Upload(err)
	}
	if len(data) > maxImageBytes {
		return services.UploadFile{}, apperr.Validation("%s exceeds the %d MB limit", fh.Filename, maxImageBytes>>20)
	}
	return services.UploadFile{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func (h *Handler) CreateListing(kind models.EntityType) gin.HandlerFunc {
	return func(c *gin.Context) {
		fields, files, ok := h.listingPayload(c)
		if !ok {
			return
		}
		listing, err := h.listings.Create(c.Request.Context(), actorFrom(c), kind, fields, files)
		if err != nil {
			h.respondError(c, err)
			return
		}
		respond(c, http.StatusCreated, "Listing submitted for review", listing)
	}
}

func (h *Handler) GetListing(kind models.EntityType) gin.HandlerFunc {
	return func(c *gin.Context) {
		listing, err := h.listings.Get(c.Request.Context(), actorFrom(c), kind, c.Param("id"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "", listing)
	}
}

func (h *Handler) ListListings(kind models.EntityType) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q services.ListingQuery
		if !h.bindQuery(c, &q) {
			return
		}
		items, pagination, err := h.listings.List(c.Request.Context(), actorFrom(c), kind, q)
		if err != nil {
			h.respondError(c, err)
			return
		}
		respondPage(c, items, pagination)
	}
}

func (h *Handler) UpdateListing(kind models.EntityType) gin.HandlerFunc {
	return func(c *gin.Context) {
		fields := map[string]any{}
		if !h.bindJSON(c, &fields) {
			return
		}
		listing, err := h.listings.Update(c.Request.Context(), actorFrom(c), kind, c.Param("id"), fields)
		if err != nil {
			h.respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "Listing updated", listing)
	}
}

func (h *Handler) DeleteListing(kind models.EntityType) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.listings.Delete(c.Request.Context(), actorFrom(c), kind, c.Param("id")); err != nil {
			h.respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "Listing deleted", nil)
	}
}

// ListingQR serves the share code of a listing as PNG or SVG.
func (h *Handler) ListingQR(kind models.EntityType) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := services.QROptions{
			Format:  services.QRFormat(strings.ToLower(c.DefaultQuery("format", "png"))),
			FgColor: c.Query("fg"),
			BgColor: c.Query("bg"),
		}
		if raw := c.Query("size"); raw != "" {
			size, err := strconv.Atoi(raw)
			if err != nil {
				h.respondError(c, apperr.Validation("size must be a number"))
				return
			}
			opts.Size = size
		}
		code, err := h.listings.ShareCode(c.Request.Context(), actorFrom(c), kind, c.Param("id"), opts)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Header("Cache-Control", "public, max-age=86400")
		c.Data(http.StatusOK, code.ContentType, code.Data)
	}
}

func (h *Handler) ToggleLike(c *gin.Context) {
	liked, count, err := h.listings.ToggleLike(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "", gin.H{"liked": liked, "likes": count})
}

func (h *Handler) MyLikes(c *gin.Context) {
	properties, err := h.listings.LikedProperties(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "", properties)
}

func (h *Handler) MyListings(c *gin.Context) {
	mine, err := h.listings.Mine(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "", mine)
}
