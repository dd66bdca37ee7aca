package httpx

import (
	"net/http"

	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	"github.com/northwind-consulting/portal/internal/guard"
	"github.com/northwind-consulting/portal/internal/ports"
)

const adminUsersPageSize = 200

// Home sends visitors to their dashboard or to the sign-in page.
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	if AuthStateFromContext(r.Context()).IsAuthenticated() {
		http.Redirect(w, r, guard.DefaultLandingPath, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
}

// Dashboard is the landing page of every active, verified user.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, PageData{Page: PageDashboard, Title: "Dashboard"})
}

// ProfilePage shows the self-service profile form.
func (h *Handlers) ProfilePage(w http.ResponseWriter, r *http.Request) {
	data := PageData{Page: PageProfile, Title: "Your profile"}
	if pr := AuthStateFromContext(r.Context()).Profile; pr != nil {
		data.Form = profileForm(pr.FullName, pr.Company, pr.Department, pr.JobTitle)
	}
	if r.URL.Query().Get("saved") == "1" {
		data.Notice = "Profile updated."
	}
	h.render(w, r, http.StatusOK, data)
}

// ProfileSubmit saves the profile form.
func (h *Handlers) ProfileSubmit(w http.ResponseWriter, r *http.Request) {
	p, ok := h.provider(w, r)
	if !ok {
		return
	}
	if !parseForm(w, r) {
		return
	}
	fullName := r.PostFormValue("full_name")
	company := r.PostFormValue("company")
	department := r.PostFormValue("department")
	jobTitle := r.PostFormValue("job_title")

	upd := domainauth.ProfileUpdate{
		FullName:   &fullName,
		Company:    &company,
		Department: &department,
		JobTitle:   &jobTitle,
	}
	if err := p.UpdateProfile(r.Context(), upd); err != nil {
		data := formError(err, PageData{Page: PageProfile, Title: "Your profile"})
		data.Form = profileForm(fullName, company, department, jobTitle)
		h.render(w, r, StatusForError(err), data)
		return
	}
	http.Redirect(w, r, "/profile?saved=1", http.StatusSeeOther)
}

// HRJobs lists job postings for everyone allowed to view them.
func (h *Handlers) HRJobs(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, PageData{Page: PageHRJobs, Title: "Job postings"})
}

// AdminUsers lists every profile.
func (h *Handlers) AdminUsers(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.svc.ListProfiles(r.Context(), ports.ProfileListOptions{Limit: adminUsersPageSize})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list profiles failed", "error", err)
		h.render(w, r, StatusForError(err), formError(err, PageData{Page: PageAdminUsers, Title: "Users"}))
		return
	}
	h.render(w, r, http.StatusOK, PageData{Page: PageAdminUsers, Title: "Users", Data: profiles})
}

// NotFound answers unmatched paths.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.renderError(w, r, http.StatusNotFound, "The page you are looking for does not exist.")
}

func profileForm(fullName, company, department, jobTitle string) map[string]string {
	return map[string]string{
		"full_name":  fullName,
		"company":    company,
		"department": department,
		"job_title":  jobTitle,
	}
}
