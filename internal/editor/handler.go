package editor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/debemdeboas/postdeck/internal/auth"
	"github.com/debemdeboas/postdeck/internal/config"
	"github.com/debemdeboas/postdeck/internal/lifecycle"
	"github.com/debemdeboas/postdeck/internal/model"
	"github.com/debemdeboas/postdeck/internal/publish"
	"github.com/debemdeboas/postdeck/internal/render"
	"github.com/debemdeboas/postdeck/internal/repository"
	"github.com/debemdeboas/postdeck/internal/routes"
	"github.com/debemdeboas/postdeck/internal/toolbar"
)

type Handler struct {
	repo     repository.PostRepository
	sessions *Registry
	media    repository.MediaRepository
	identity auth.Identity

	maxUpload int64
}

// NewHandler serves the editing API. media may be nil, in which case uploads are refused.
func NewHandler(repo repository.PostRepository, sessions *Registry, media repository.MediaRepository, identity auth.Identity, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &Handler{
		repo:      repo,
		sessions:  sessions,
		media:     media,
		identity:  identity,
		maxUpload: maxUpload,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT "+routes.APIClient, h.serveSaveClient)
	mux.HandleFunc("GET "+routes.APIClientPosts, h.serveListPosts)
	mux.HandleFunc("POST "+routes.APIClientPosts, h.serveCreatePost)
	mux.HandleFunc("GET "+routes.APIPost, h.servePost)

	mux.HandleFunc("GET "+routes.APISession, h.serveOpenSession)
	mux.HandleFunc("DELETE "+routes.APISession, h.serveCloseSession)
	mux.HandleFunc("POST "+routes.APISessionContent, h.withSession(h.serveEdit))
	mux.HandleFunc("POST "+routes.APISessionFormat, h.withSession(h.serveFormat))
	mux.HandleFunc("POST "+routes.APISessionEmoji, h.withSession(h.serveEmoji))
	mux.HandleFunc("POST "+routes.APISessionUndo, h.withSession(h.serveUndo))
	mux.HandleFunc("POST "+routes.APISessionRedo, h.withSession(h.serveRedo))
	mux.HandleFunc("POST "+routes.APISessionPicker, h.withSession(h.serveOpenPicker))
	mux.HandleFunc("DELETE "+routes.APISessionPicker, h.withSession(h.serveClosePicker))
	mux.HandleFunc("POST "+routes.APISessionPoll, h.withSession(h.servePoll))
	mux.HandleFunc("POST "+routes.APISessionMedia, h.withSession(h.serveMedia))
	mux.HandleFunc("DELETE "+routes.APISessionAttachment, h.withSession(h.serveDetach))
	mux.HandleFunc("GET "+routes.APISessionPreview, h.withSession(h.servePreview))
	mux.HandleFunc("GET "+routes.APISessionVersions, h.withSession(h.serveVersions))

	mux.HandleFunc("POST "+routes.APISessionQueue, h.withSession(h.serveQueue))
	mux.HandleFunc("POST "+routes.APISessionSchedule, h.withSession(h.serveSchedule))
	mux.HandleFunc("POST "+routes.APISessionPublish, h.withSession(h.servePublish))
}

// statusFor maps an operation error to its HTTP status.
func statusFor(err error) int {
	var pe *model.PublishError
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case model.IsValidation(err), errors.Is(err, model.ErrMissingIdentity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrAttachmentConflict),
		errors.Is(err, model.ErrOperationInProgress),
		errors.Is(err, model.ErrTerminalState),
		errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &pe):
		if pe.Uncertain {
			return http.StatusGatewayTimeout
		}
		if pe.Temporary {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	case errors.Is(err, model.ErrStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string        `json:"error"`
	View  *toolbar.View `json:"view,omitempty"`
}

type actionBody struct {
	View           toolbar.View `json:"view"`
	ExternalPostID string       `json:"external_post_id,omitempty"`
	Error          string       `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set(config.HCType, config.CTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Error encoding response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error, view *toolbar.View) {
	status := statusFor(err)
	log := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		log.Debug().Err(err).Str("path", r.URL.Path).Msg("Request rejected")
	}

	msg := toolbar.Describe(err)
	if status == http.StatusInternalServerError {
		msg = config.ErrInternalServerError
	}
	writeJSON(w, r, status, errorBody{Error: msg, View: view})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, r, http.StatusBadRequest, errorBody{Error: err.Error()})
}

// agency resolves the caller. The agency id is the signed-in user's id.
func (h *Handler) agency(r *http.Request) (model.UserID, model.AgencyID, bool) {
	user, ok := h.identity.CurrentUserId(r.Context())
	return user, model.AgencyID(user), ok
}

func (h *Handler) postKey(r *http.Request) (model.UserID, model.PostKey, bool) {
	user, agency, ok := h.agency(r)
	return user, model.PostKey{
		Agency: agency,
		Client: model.ClientID(r.PathValue("client")),
		Post:   model.PostID(r.PathValue("post")),
	}, ok
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, user model.UserID, s *Session)

// withSession resolves the caller and the open session of the addressed post.
func (h *Handler) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, key, ok := h.postKey(r)
		if !ok {
			http.Error(w, config.HTTPErrUnauthorized, http.StatusUnauthorized)
			return
		}
		s, ok := h.sessions.Get(key)
		if !ok {
			writeJSON(w, r, http.StatusNotFound, errorBody{Error: config.HTTPErrSessionNotOpen})
			return
		}
		next(w, r, user, s)
	}
}

type clientRequest struct {
	Name      string `json:"name"`
	ProfileID string `json:"profile_id"`
}

func (h *Handler) serveSaveClient(w http.ResponseWriter, r *http.Request) {
	_, agency, ok := h.agency(r)
	if !ok {
		http.Error(w, config.HTTPErrUnauthorized, http.StatusUnauthorized)
		return
	}

	var req clientRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	client := &model.Client{
		ID:        model.ClientID(r.PathValue("client")),
		Agency:    agency,
		Name:      req.Name,
		ProfileID: model.ProfileID(req.ProfileID),
	}
	if err := h.repo.SaveClient(r.Context(), client); err != nil {
		writeError(w, r, err, nil)
		return
	}
	h.sessions.SetProfile(agency, client.ID, client.ProfileID)
	writeJSON(w, r, http.StatusOK, client)
}

type postSummary struct {
	ID          model.PostID `json:"id"`
	Title       string       `json:"title"`
	Status      model.Status `json:"status"`
	ScheduledAt *time.Time   `json:"scheduled_at,omitempty"`
	PostedAt    *time.Time   `json:"posted_at,omitempty"`
	ExternalID  string       `json:"external_post_id,omitempty"`
	Excerpt     string       `json:"excerpt"`
	ModifiedAt  time.Time    `json:"modified_at"`
}

func summarize(p *model.Post) postSummary {
	excerpt, _ := render.FeedExcerpt(p.Content)
	return postSummary{
		ID:          p.ID,
		Title:       p.DisplayTitle(),
		Status:      lifecycle.FromRecord(p).Status(),
		ScheduledAt: p.ScheduledAt,
		PostedAt:    p.PostedAt,
		ExternalID:  p.ExternalPostID,
		Excerpt:     excerpt,
		ModifiedAt:  p.ModifiedAt,
	}
}

func (h *Handler) serveListPosts(w http.ResponseWriter, r *http.Request) {
	_, agency, ok := h.agency(r)
	if !ok {
		http.Error(w, config.HTTPErrUnauthorized, http.StatusUnauthorized)
		return
	}

	posts, err := h.repo.ListPosts(r.Context(), agency, model.ClientID(r.PathValue("client")))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	out := make([]postSummary, 0, len(posts))
	for i := range posts {
		out = append(out, summarize(&posts[i]))
	}
	writeJSON(w, r, http.StatusOK, out)
}

type createPostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h *Handler) serveCreatePost(w http.ResponseWriter, r *http.Request) {
	_, agency, ok := h.agency(r)
	if !ok {
		http.Error(w, config.HTTPErrUnauthorized, http.StatusUnauthorized)
		return
	}

	var req createPostRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	post, err := h.repo.CreatePost(r.Context(), agency, model.ClientID(r.PathValue("client")), req.Title, req.Content)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusCreated, summarize(post))
}

func (h *Handler) servePost(w http.ResponseWriter, r *http.Request) {
	_, key, ok := h.postKey(r)
	if !ok {
		http.Error(w, config.HTTPErrUnauthorized, http.StatusUnauthorized)
		return
	}

	post, err := h.repo.ReadPost(r.Context(), key)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, summarize(post))
}

func (h *Handler) serveOpenSession(w http.ResponseWriter, r *http.Request) {
	user, key, ok := h.postKey(r)
	if !ok {
		http.Error(w, config.HTTPErrUnauthorized, http.StatusUnauthorized)
		return
	}

	s, err := h.sessions.Open(r.Context(), user, key)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	view, err := s.State(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

func (h *Handler) serveCloseSession(w http.ResponseWriter, r *http.Request) {
	_, key, ok := h.postKey(r)
	if !ok {
		http.Error(w, config.HTTPErrUnauthorized, http.StatusUnauthorized)
		return
	}
	h.sessions.Close(key)
	w.WriteHeader(http.StatusNoContent)
}

// respond writes the session view, or the error alongside the unchanged view.
func respond(w http.ResponseWriter, r *http.Request, s *Session, err error) {
	view, verr := s.State(r.Context())
	if verr != nil {
		writeError(w, r, verr, nil)
		return
	}
	if err != nil {
		writeError(w, r, err, &view)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

type editRequest struct {
	Content string `json:"content"`
}

func (h *Handler) serveEdit(w http.ResponseWriter, r *http.Request, _ model.UserID, s *Session) {
	var req editRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	_, err := s.Edit(r.Context(), req.Content)
	respond(w, r, s, err)
}

type formatRequest struct {
	Tag model.FormatTag `json:"tag"`
}

func (h *Handler) serveFormat(w http.ResponseWriter, r *http.Request, _ model.UserID, s *Session) {
	var req formatRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	_, err := s.ApplyFormat(r.Context(), req.Tag)
	if err != nil && !errors.Is(err, model.ErrTerminalState) {
		badRequest(w, r, err)
		return
	}
	respond(w, r, s, err)
}

type emojiRequest struct {
	Glyph  string `json:"glyph"`
	Cursor *int   `json:"cursor"`
}

func (h *Handler) serveEmoji(w http.ResponseWriter, r *http.Request, _ model.UserID, s *Session) {
	var req emojiRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if !slices.Contains(toolbar.EmojiPalette, req.Glyph) {
		badRequest(w, r, fmt.Errorf("%q is not in the emoji palette", req.Glyph))
		return
	}

	cursor := -1
	if req.Cursor != nil {
		cursor = *req.Cursor
	}
	_, err := s.InsertEmoji(r.Context(), req.Glyph, cursor)
	respond(w, r, s, err)
}

func (h *Handler) serveUndo(w http.ResponseWriter, r *http.Request, _ model.UserID, s *Session) {
	_, _, err := s.Undo(r.Context())
	respond(w, r, s, err)
}

func (h *Handler) serveRedo(w http.ResponseWriter, r *http.Request, _ model.UserID, s *Session) {
	_, _, err := s.Redo(r.Context())
	respond(w, r, s, err)
}

type pickerRequest struct {
	Kind model.AttachmentKind `json:"kind"`
}

func (h *Handler) serveOpenPicker(w http.ResponseWriter, r *http.Request, _ model.UserID, s *Session) {
	var req pickerRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if req.Kind != model.KindMedia && req.Kind != model.KindPoll {
		badRequest(w, r, fmt.Errorf("unknown attachment kind %q", req.Kind))
		return
	}
	respond(w, r, s, s.OpenAttachmentPicker(r.Context(), req.Kind))
}

func (h *Handler) serveClosePicker(w http.ResponseWriter, r *http.Request, _ model.UserID, s *Session) {
	s.CloseAttachmentPicker()
	respond(w, r, s, nil)
}

type pollRequest struct {
	Options      []string `json:"options"`
	DurationDays int      `json:"duration_days"`
}

func (h *Handler) servePoll(w http.ResponseWriter, r *http.Request, _ model.UserID, s *Session) {
	var req pollRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	_, err := s.AttachPoll(r.Context(), model.Poll{Options: req.Options, DurationDays: req.DurationDays})
	respond(w, r, s, err)
}

// serveMedia stores the uploaded files and adds them to the draft's media.
func (h *Handler) serveMedia(w http.ResponseWriter, r *http.Request, _ model.UserID, s *Session) {
	if h.media == nil {
		http.Error(w, "Media uploads are disabled", http.StatusNotImplemented)
		return
	}
	view, err := s.State(r.Context())
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	if !view.Media.Enabled {
		respond(w, r, s, model.ErrAttachmentConflict)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		badRequest(w, r, fmt.Errorf("invalid upload: %w", err))
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		badRequest(w, r, errors.New("no file uploaded"))
		return
	}

	var files []model.MediaFile
	if current, ok := s.Draft().Attachment.(model.Media); ok {
		files = slices.Clone(current.Files)
	}

	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			badRequest(w, r, err)
			return
		}
		file, err := h.media.PutMedia(r.Context(), fh.Filename, fh.Header.Get(config.HCType), f, fh.Size)
		f.Close()
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		files = append(files, file)
	}

	_, err = s.AttachMedia(r.Context(), model.Media{Files: files})
	respond(w, r, s, err)
}

func (h *Handler) serveDetach(w http.ResponseWriter, r *http.Request, _ model.UserID, s *Session) {
	_, err := s.Detach(r.Context())
	respond(w, r, s, err)
}

func (h *Handler) servePreview(w http.ResponseWriter, r *http.Request, _ model.UserID, s *Session) {
	writeJSON(w, r, http.StatusOK, render.BuildPreview(s.Draft().Content))
}

type versionView struct {
	Index   int            `json:"index"`
	Content string         `json:"content"`
	Metrics render.Metrics `json:"metrics"`
	Current bool           `json:"current"`
}

func (h *Handler) serveVersions(w http.ResponseWriter, r *http.Request, _ model.UserID, s *Session) {
	versions := s.Versions()
	out := make([]versionView, len(versions))
	for i, v := range versions {
		out[i] = versionView{
			Index:   i,
			Content: v.Content,
			Metrics: render.ComputeMetrics(v.Content),
			Current: i == len(versions)-1,
		}
	}
	writeJSON(w, r, http.StatusOK, out)
}

func respondAction(w http.ResponseWriter, r *http.Request, s *Session, res publish.Result, err error) {
	view, verr := s.State(r.Context())
	if verr != nil {
		writeError(w, r, verr, nil)
		return
	}
	body := actionBody{View: view, ExternalPostID: res.ExternalPostID}
	if err != nil {
		body.Error = toolbar.Describe(err)
		writeJSON(w, r, statusFor(err), body)
		return
	}
	writeJSON(w, r, http.StatusOK, body)
}

func (h *Handler) serveQueue(w http.ResponseWriter, r *http.Request, _ model.UserID, s *Session) {
	res, err := s.AddToQueue(r.Context())
	respondAction(w, r, s, res, err)
}

type scheduleRequest struct {
	At time.Time `json:"at"`
}

func (h *Handler) serveSchedule(w http.ResponseWriter, r *http.Request, _ model.UserID, s *Session) {
	var req scheduleRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	res, err := s.Schedule(r.Context(), req.At)
	respondAction(w, r, s, res, err)
}

func (h *Handler) servePublish(w http.ResponseWriter, r *http.Request, user model.UserID, s *Session) {
	res, err := s.PostNow(r.Context(), user)
	respondAction(w, r, s, res, err)
}
