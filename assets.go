// Package portal provides embedded assets for production builds.
package portal

import "embed"

// TemplateFS holds the HTML templates under web/templates.
//
//go:embed web/templates
var TemplateFS embed.FS

// StaticFS holds stylesheets and other files served under /static/.
//
//go:embed web/static
var StaticFS embed.FS
