package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"mytasks/internal/auth"
	"mytasks/internal/domain"
	"mytasks/internal/reminder"
	"mytasks/internal/tasks"
)

//go:embed templates/*.html
var templateFS embed.FS

type Server struct {
	r         *chi.Mux
	logger    zerolog.Logger
	auth      *auth.Service
	tasks     *tasks.Service
	reminders *reminder.Scheduler
	templates *template.Template
}

type Options struct {
	Logger    zerolog.Logger
	Auth      *auth.Service
	Tasks     *tasks.Service
	Reminders *reminder.Scheduler
	Debug     bool
}

func NewServer(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	templates := template.Must(template.New("").Funcs(template.FuncMap{
		"fmtTime": func(t time.Time) string { return t.Format("Mon Jan 2 15:04") },
		"section": func(name string, list []domain.Task) section { return section{Name: name, Tasks: list} },
	}).ParseFS(templateFS, "templates/*.html"))

	s := &Server{
		r:         r,
		logger:    opts.Logger,
		auth:      opts.Auth,
		tasks:     opts.Tasks,
		reminders: opts.Reminders,
		templates: templates,
	}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.register)
		r.Post("/auth/login", s.login)
		r.Post("/auth/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser(false))
			r.Post("/auth/logout", s.logout)
			r.Get("/auth/me", s.me)
			r.Put("/settings", s.updateSettings)

			r.Get("/tasks", s.listTasks)
			r.Post("/tasks", s.createTask)
			r.Get("/tasks/grouped", s.groupedTasks)
			r.Get("/tasks/stats", s.stats)
			r.Get("/tasks/{id}", s.getTask)
			r.Put("/tasks/{id}", s.updateTask)
			r.Delete("/tasks/{id}", s.deleteTask)
			r.Post("/tasks/{id}/toggle", s.toggleTask)

			r.Get("/reminders", s.listReminders)
			r.Post("/reminders/{id}/{action}", s.respond)

			r.Post("/legacy/export", s.exportLegacy)
			r.Post("/legacy/import", s.importLegacy)
		})
	})

	r.With(s.requireUser(true)).Get("/dashboard", s.dashboard)

	if opts.Debug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "mytasks_up 1\nmytasks_pending_reminders %d\n", s.reminders.Len())
}

type ctxKey struct{}

func userFrom(ctx context.Context) domain.User {
	u, _ := ctx.Value(ctxKey{}).(domain.User)
	return u
}

// requireUser resolves the bearer token into the current user. The
// dashboard also accepts the token as a query parameter so it can be opened
// from a link.
func (s *Server) requireUser(allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" && allowQuery {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "authorization required")
				return
			}
			user, err := s.auth.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidToken) ||
					errors.Is(err, domain.ErrSessionNotFound) ||
					errors.Is(err, domain.ErrSessionExpired) ||
					errors.Is(err, domain.ErrUserNotFound) {
					writeError(w, http.StatusUnauthorized, "invalid token")
					return
				}
				s.logger.Error().Err(err).Msg("failed to authenticate")
				writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
		})
	}
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.auth.Register(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "a valid email and a password of at least 6 characters are required")
	case errors.Is(err, domain.ErrUserAlreadyExists):
		writeError(w, http.StatusConflict, "user already exists")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to register")
	default:
		writeJSON(w, http.StatusCreated, res)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.auth.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrPasswordMismatch):
		writeError(w, http.StatusUnauthorized, "invalid email or password")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to log in")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}
	res, err := s.auth.Refresh(r.Context(), req.RefreshToken)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to refresh session")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), userFrom(r.Context()).ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to log out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type userResp struct {
	ID                   string    `json:"id"`
	Email                string    `json:"email"`
	NotificationsEnabled bool      `json:"notifications_enabled"`
	ReminderDelaySeconds int64     `json:"reminder_delay_seconds"`
	CreatedAt            time.Time `json:"created_at"`
}

func toUserResp(u domain.User) userResp {
	return userResp{
		ID:                   u.ID,
		Email:                u.Email,
		NotificationsEnabled: u.NotificationsEnabled,
		ReminderDelaySeconds: int64(u.ReminderDelay / time.Second),
		CreatedAt:            u.CreatedAt,
	}
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toUserResp(userFrom(r.Context())))
}

type settingsReq struct {
	NotificationsEnabled *bool  `json:"notifications_enabled"`
	ReminderDelaySeconds *int64 `json:"reminder_delay_seconds"`
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	settings := auth.Settings{NotificationsEnabled: req.NotificationsEnabled}
	if req.ReminderDelaySeconds != nil {
		if *req.ReminderDelaySeconds < 0 {
			writeError(w, http.StatusBadRequest, "reminder_delay_seconds must not be negative")
			return
		}
		d := time.Duration(*req.ReminderDelaySeconds) * time.Second
		settings.ReminderDelay = &d
	}
	user, err := s.auth.UpdateSettings(r.Context(), userFrom(r.Context()).ID, settings)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update settings")
		return
	}
	writeJSON(w, http.StatusOK, toUserResp(user))
}

func filtersFrom(r *http.Request) domain.TaskFilters {
	q := r.URL.Query()
	return domain.TaskFilters{
		Priority:  q.Get("priority"),
		Status:    q.Get("status"),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
}

// taskError maps a use-case error to a response. Unexpected failures get
// the generic message so store errors never reach the client.
func (s *Server) taskError(w http.ResponseWriter, err error, generic string) {
	var ve *tasks.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Message)
	case errors.Is(err, domain.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, domain.ErrReminderNotFound):
		writeError(w, http.StatusNotFound, "reminder not found")
	default:
		s.logger.Error().Err(err).Msg(generic)
		writeError(w, http.StatusInternalServerError, generic)
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	list, err := s.tasks.List(r.Context(), userFrom(r.Context()).ID, filtersFrom(r))
	if err != nil {
		s.taskError(w, err, "Failed to fetch tasks")
		return
	}
	if list == nil {
		list = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) groupedTasks(w http.ResponseWriter, r *http.Request) {
	g, err := s.tasks.Grouped(r.Context(), userFrom(r.Context()).ID, filtersFrom(r))
	if err != nil {
		s.taskError(w, err, "Failed to fetch tasks")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.tasks.Stats(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.taskError(w, err, "Failed to fetch tasks")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var in tasks.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := s.tasks.Create(r.Context(), userFrom(r.Context()).ID, in)
	if err != nil {
		s.taskError(w, err, "Failed to create task")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Get(r.Context(), userFrom(r.Context()).ID, chi.URLParam(r, "id"))
	if err != nil {
		s.taskError(w, err, "Failed to fetch tasks")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type updateTaskReq struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Completed   *bool            `json:"completed"`
	Priority    *domain.Priority `json:"priority"`
	DueDate     *time.Time       `json:"due_date"`
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := s.tasks.Update(r.Context(), userFrom(r.Context()).ID, chi.URLParam(r, "id"), domain.TaskPatch{
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
		Priority:    req.Priority,
		DueDate:     req.DueDate,
	})
	if err != nil {
		s.taskError(w, err, "Failed to update task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) toggleTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.Toggle(r.Context(), userFrom(r.Context()).ID, chi.URLParam(r, "id"))
	if err != nil {
		s.taskError(w, err, "Failed to update task status")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Delete(r.Context(), userFrom(r.Context()).ID, chi.URLParam(r, "id")); err != nil {
		s.taskError(w, err, "Failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listReminders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tasks.Reminders(userFrom(r.Context()).ID))
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request) {
	action := domain.ReminderAction(chi.URLParam(r, "action"))
	err := s.tasks.Respond(r.Context(), userFrom(r.Context()).ID, chi.URLParam(r, "id"), action)
	if err != nil {
		s.taskError(w, err, "Failed to update task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exportLegacy(w http.ResponseWriter, r *http.Request) {
	n, err := s.tasks.Export(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.taskError(w, err, "Failed to export tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"exported": n})
}

func (s *Server) importLegacy(w http.ResponseWriter, r *http.Request) {
	created, err := s.tasks.Import(r.Context(), userFrom(r.Context()).ID)
	if err != nil {
		s.taskError(w, err, "Failed to import tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": len(created), "tasks": created})
}

type section struct {
	Name  string
	Tasks []domain.Task
}

type dashboardData struct {
	User      domain.User
	Groups    tasks.Groups
	Stats     tasks.Stats
	Reminders []domain.Reminder
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	g, err := s.tasks.Grouped(r.Context(), user.ID, domain.TaskFilters{})
	if err != nil {
		s.logger.Error().Err(err).Msg("dashboard: failed to fetch tasks")
		http.Error(w, "Failed to fetch tasks", http.StatusInternalServerError)
		return
	}
	st, err := s.tasks.Stats(r.Context(), user.ID)
	if err != nil {
		s.logger.Error().Err(err).Msg("dashboard: failed to fetch stats")
		http.Error(w, "Failed to fetch tasks", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, "dashboard.html", dashboardData{
		User:      user,
		Groups:    g,
		Stats:     st,
		Reminders: s.tasks.Reminders(user.ID),
	}); err != nil {
		s.logger.Error().Err(err).Msg("dashboard: failed to render")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
