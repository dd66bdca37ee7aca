package httpx

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/northwind-consulting/portal/internal/authstate"
	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	"github.com/northwind-consulting/portal/internal/guard"
)

// PageData is the view model shared by every HTML page.
type PageData struct {
	Title     string
	Page      string
	Auth      authstate.State
	CSRFToken string

	Notice     string
	Error      string
	ErrorField string
	Rules      []string
	Form       map[string]string
	Redirect   string
	Reason     guard.Reason

	Data any
}

// TemplateRenderer renders HTML templates for UI responses.
type TemplateRenderer struct {
	t      *template.Template
	logger *slog.Logger
}

// TemplateRendererConfig holds configuration for creating a TemplateRenderer.
type TemplateRendererConfig struct {
	TemplateFS fs.FS        // Filesystem containing templates (required)
	Logger     *slog.Logger // Logger for template errors (optional)
}

// NewTemplateRenderer parses the layout and every page template.
func NewTemplateRenderer(cfg TemplateRendererConfig) (*TemplateRenderer, error) {
	if cfg.TemplateFS == nil {
		return nil, errors.New("TemplateFS is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var t *template.Template
	t, err := template.New("root").Funcs(templateFuncs(&t)).ParseFS(cfg.TemplateFS, "*.tmpl", "pages/*.tmpl")
	if err != nil {
		logger.Error("template parsing failed",
			slog.Any("error", err),
			slog.String("phase", "initialization"),
		)
		return nil, err
	}
	return &TemplateRenderer{t: t, logger: logger}, nil
}

// Render writes the full page for data.Page with the given status. Nothing
// is written when the template fails.
func (r *TemplateRenderer) Render(w http.ResponseWriter, status int, data PageData) error {
	var buf bytes.Buffer
	if err := r.t.ExecuteTemplate(&buf, "layout", data); err != nil {
		r.logger.Error("template execution failed",
			slog.String("page", data.Page),
			slog.Any("error", err),
		)
		return err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		// The status line is out; a client disconnect is all that is left to report.
		r.logger.Debug("failed to write rendered template",
			slog.String("page", data.Page),
			slog.Any("error", err),
		)
	}
	return nil
}

// ContentTemplateFor maps a page identifier to its content template.
func ContentTemplateFor(page string) string {
	return "page-" + page
}

func templateFuncs(t **template.Template) template.FuncMap {
	return template.FuncMap{
		"content": func(data PageData) (template.HTML, error) {
			var buf bytes.Buffer
			if err := (*t).ExecuteTemplate(&buf, ContentTemplateFor(data.Page), data); err != nil {
				return "", fmt.Errorf("render %s: %w", data.Page, err)
			}
			//nolint:gosec // output of html/template is already escaped
			return template.HTML(buf.String()), nil
		},
		"roleGuard": roleGuard,
		"can": func(state authstate.State, permission string) bool {
			return state.Can(domainauth.Permission(permission))
		},
		"roleInfo": func(role domainauth.Role) domainauth.RoleDisplay {
			return domainauth.DisplayInfo(role)
		},
		"permissionsFor": domainauth.PermissionsFor,
		"formValue": func(data PageData, key string) string {
			return data.Form[key]
		},
	}
}

// roleGuard exposes guard.AllowRole to templates. roles and permissions are
// comma-separated lists; empty lists do not restrict.
func roleGuard(state authstate.State, roles, permissions string, requireAll bool) bool {
	var opts guard.RoleGuardOptions
	for _, r := range splitList(roles) {
		opts.AllowedRoles = append(opts.AllowedRoles, domainauth.Role(r))
	}
	for _, p := range splitList(permissions) {
		opts.RequiredPermissions = append(opts.RequiredPermissions, domainauth.Permission(p))
	}
	opts.RequireAll = requireAll
	return guard.AllowRole(state, opts)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
