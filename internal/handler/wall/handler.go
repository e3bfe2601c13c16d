// Package wall serves the public pages: the wall itself, the submission
// form, the latest-messages pull endpoint and the QR code.
package wall

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"github.com/zhouzirui/message-wall/backend/internal/model/message"
	"github.com/zhouzirui/message-wall/backend/internal/service/admission"
	wallService "github.com/zhouzirui/message-wall/backend/internal/service/wall"
	"github.com/zhouzirui/message-wall/backend/internal/web"
	"github.com/zhouzirui/message-wall/backend/pkg/utils"
)

// RateLimitedText is shown to a submitter who already posted this minute.
const RateLimitedText = "Please wait one minute before sending another message 💖"

const (
	maxLatestLimit = 500
	qrSize         = 256
	// formOverhead covers the text fields and multipart framing on top of the photo.
	formOverhead = 1 << 20
)

// Options tunes the public handler.
type Options struct {
	Limits           admission.Limits
	LatestLimit      int
	RotationInterval time.Duration
	ResyncInterval   time.Duration
	// PublicURL is the externally visible base URL; derived from the request when empty.
	PublicURL string
	Log       *slog.Logger
}

// Handler serves the public wall.
type Handler struct {
	svc      *wallService.Service
	renderer *web.Renderer
	opts     Options
	log      *slog.Logger
}

// New creates the public handler.
func New(svc *wallService.Service, renderer *web.Renderer, opts Options) *Handler {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, renderer: renderer, opts: opts, log: log}
}

// RegisterRoutes mounts the public routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleHome)
	r.Get("/submit", h.handleSubmitForm)
	r.Post("/submit", h.handleSubmit)
	r.Get("/messages/latest", h.handleLatest)
	r.Get("/qr", h.handleQR)
}

func (h *Handler) pageData(title string) web.PageData {
	return web.PageData{
		Title:           title,
		MaxTextLength:   h.opts.Limits.MaxTextLength,
		MaxSenderLength: h.opts.Limits.MaxSenderLength,
		MaxImageMB:      h.opts.Limits.MaxImageBytes >> 20,
		RotationMillis:  h.opts.RotationInterval.Milliseconds(),
		ResyncMillis:    h.opts.ResyncInterval.Milliseconds(),
		LatestLimit:     h.opts.LatestLimit,
	}
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	messages, err := h.svc.List(r.Context())
	if err != nil {
		h.log.Error("[http] failed to list messages", "error", err)
		utils.RespondText(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}

	data := h.pageData("Message Wall")
	data.Messages = messages
	h.render(w, web.PageHome, data)
}

func (h *Handler) handleSubmitForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, web.PageSubmit, h.pageData("Write a message"))
}

func (h *Handler) render(w http.ResponseWriter, page string, data web.PageData) {
	if err := h.renderer.Render(w, http.StatusOK, page, data); err != nil {
		h.log.Error("[http] failed to render page", "page", page, "error", err)
		utils.RespondText(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
	}
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.Limits.MaxImageBytes+formOverhead)

	sub, err := h.parseSubmission(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondText(w, http.StatusBadRequest, fmt.Sprintf("Photos must be %d MB or smaller.", h.opts.Limits.MaxImageBytes>>20))
			return
		}
		utils.RespondText(w, http.StatusBadRequest, "Could not read the form, please try again.")
		return
	}

	created, err := h.svc.Submit(r.Context(), sub)
	if err != nil {
		h.respondSubmitError(w, err)
		return
	}

	if wantsJSON(r) {
		utils.RespondJSON(w, http.StatusCreated, created)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) respondSubmitError(w http.ResponseWriter, err error) {
	var limited *admission.RateLimitError
	switch {
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(int(limited.RetryAfter.Round(time.Second)/time.Second)))
		utils.RespondText(w, http.StatusTooManyRequests, RateLimitedText)
	case errors.Is(err, admission.ErrInvalidImage):
		utils.RespondText(w, http.StatusBadRequest,
			fmt.Sprintf("Please attach an image file (JPEG, PNG, GIF or WebP) of %d MB or less.", h.opts.Limits.MaxImageBytes>>20))
	case errors.Is(err, admission.ErrInvalidPayload):
		utils.RespondText(w, http.StatusBadRequest,
			fmt.Sprintf("Please enter your name and a message of at most %d characters.", h.opts.Limits.MaxTextLength))
	default:
		h.log.Error("[http] submission failed", "error", err)
		utils.RespondText(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
	}
}

func (h *Handler) parseSubmission(r *http.Request) (admission.Submission, error) {
	sub := admission.Submission{ClientID: clientID(r)}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(formOverhead); err != nil {
			return sub, err
		}
		img, err := readPicture(r, h.opts.Limits.MaxImageBytes)
		if err != nil {
			return sub, err
		}
		sub.Image = img
	} else if err := r.ParseForm(); err != nil {
		return sub, err
	}

	sub.Text = r.FormValue("message")
	sub.SenderName = r.FormValue("sender_name")
	return sub, nil
}

func readPicture(r *http.Request, maxBytes int64) (*admission.Image, error) {
	file, header, err := r.FormFile("picture")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if header.Size == 0 {
		return nil, nil
	}

	// One byte past the limit is enough for admission to reject it.
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, err
	}
	return &admission.Image{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Filename:    header.Filename,
	}, nil
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	limit := h.opts.LatestLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLatestLimit {
			utils.RespondError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxLatestLimit))
			return
		}
		limit = n
	}

	messages, err := h.svc.Latest(r.Context(), limit)
	if err != nil {
		h.log.Error("[http] failed to read latest messages", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if messages == nil {
		messages = []message.Message{}
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request) {
	png, err := qrcode.Encode(SubmitURL(h.opts.PublicURL, r), qrcode.Medium, qrSize)
	if err != nil {
		h.log.Error("[http] failed to encode qr code", "error", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to generate qr code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(png); err != nil {
		h.log.Warn("[http] failed to write qr code", "error", err)
	}
}

// SubmitURL is the address the QR code points to.
func SubmitURL(publicURL string, r *http.Request) string {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/") + "/submit"
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/submit"
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// clientID keys the rate limiter. RealIP has already replaced RemoteAddr with
// the forwarded address when present.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
