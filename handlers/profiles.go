package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/matedash/authbridge/internal/models"
	"github.com/matedash/authbridge/internal/profiles"
	"github.com/matedash/authbridge/internal/storage"
	"github.com/matedash/authbridge/internal/validation"
	"github.com/matedash/authbridge/pkg/logger"
	"github.com/matedash/authbridge/pkg/metrics"
	"github.com/matedash/authbridge/pkg/middleware"
	"github.com/matedash/authbridge/pkg/response"
)

// ProfileHandler serves the profile records keyed by identity-provider id.
type ProfileHandler struct {
	svc     *profiles.Service
	avatars storage.Avatars
}

// NewProfileHandler wires the profile routes. avatars may be nil, in which
// case picture uploads fail with an upstream error.
func NewProfileHandler(svc *profiles.Service, avatars storage.Avatars) *ProfileHandler {
	return &ProfileHandler{svc: svc, avatars: avatars}
}

var updateProfileSchema = append(append(validation.Schema{}, validation.ProfileIDParam...), validation.UpdateProfile...)

// Register mounts the routes on rg (normally /api/auth). Every route needs a
// verified bearer token.
func (h *ProfileHandler) Register(rg *gin.RouterGroup, auth gin.HandlerFunc) {
	a := rg.Group("", auth)
	a.GET("/me", h.Me)
	a.POST("/user", middleware.Validate(validation.CreateProfile), h.Create)
	a.GET("/user/:id", middleware.Validate(validation.ProfileIDParam), h.GetByID)
	a.PUT("/user/:id", middleware.Validate(updateProfileSchema), h.Update)
	a.DELETE("/user/:id", middleware.Validate(validation.ProfileIDParam), h.Delete)
	a.POST("/user/:id/avatar", middleware.Validate(validation.ProfileIDParam), h.UploadAvatar)
	a.GET("/user-by-email/:email", middleware.Validate(validation.EmailParam), h.GetByEmail)
	a.POST("/complete-onboarding", h.CompleteOnboarding)
	a.GET("/users", middleware.Validate(validation.ListProfiles), h.List)
}

// abort hands err to the error middleware.
func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// profileError classifies repository errors.
func profileError(err error) error {
	switch {
	case errors.Is(err, profiles.ErrNotFound):
		return response.NotFound("Profile not found")
	case errors.Is(err, profiles.ErrDuplicate):
		return response.Conflict(response.CodeUserExists, "A profile with this email already exists")
	case errors.Is(err, profiles.ErrMissingIdentity):
		return response.BadRequest("Profile id and email are required")
	}
	return response.Upstream("Profile store unavailable", err)
}

func (h *ProfileHandler) isAdmin(ctx context.Context, sub string) bool {
	p, err := h.svc.GetByID(ctx, sub)
	return err == nil && p.Role == models.RoleAdmin
}

// authorize allows the owner of id and administrators.
func (h *ProfileHandler) authorize(c *gin.Context, id string) error {
	sub := middleware.Subject(c)
	if sub == id || h.isAdmin(c.Request.Context(), sub) {
		return nil
	}
	return response.Forbidden("You may only access your own profile")
}

// Me returns the caller's profile.
func (h *ProfileHandler) Me(c *gin.Context) {
	p, err := h.svc.GetByID(c.Request.Context(), middleware.Subject(c))
	if err != nil {
		abort(c, profileError(err))
		return
	}
	response.OK(c, http.StatusOK, "Profile retrieved", p)
}

// ownEmail checks that email, when set, is the address on the caller's
// token. Other addresses belong to other accounts at the provider.
func ownEmail(c *gin.Context, email *string) error {
	if email == nil {
		return nil
	}
	claim := middleware.Email(c)
	if claim == "" {
		return response.BadRequest("The access token carries no email address")
	}
	if !strings.EqualFold(strings.TrimSpace(*email), claim) {
		return response.Forbidden("Profile email must match the signed-in account")
	}
	return nil
}

// Create stores the caller's profile. The id and email always come from the
// token. Repeating the call returns the existing profile with 200.
func (h *ProfileHandler) Create(c *gin.Context) {
	var patch models.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		abort(c, response.BadRequest("Invalid profile payload"))
		return
	}
	if patch.Role != nil && *patch.Role != models.RoleUser {
		abort(c, response.Forbidden("Only administrators can assign roles"))
		return
	}
	if err := ownEmail(c, patch.Email); err != nil {
		abort(c, err)
		return
	}
	sub, email := middleware.Subject(c), middleware.Email(c)
	patch.ID = &sub
	patch.Email = &email
	patch.TokenBalance = nil

	p, created, err := h.svc.Create(c.Request.Context(), patch)
	if err != nil {
		abort(c, profileError(err))
		return
	}
	if !created {
		response.OK(c, http.StatusOK, "Profile already exists", p)
		return
	}
	metrics.ProfilesCreated.Inc()
	response.OK(c, http.StatusCreated, "Profile created", p)
}

func (h *ProfileHandler) GetByID(c *gin.Context) {
	id := middleware.Values(c)["id"]
	if err := h.authorize(c, id); err != nil {
		abort(c, err)
		return
	}
	p, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		abort(c, profileError(err))
		return
	}
	response.OK(c, http.StatusOK, "Profile retrieved", p)
}

func (h *ProfileHandler) GetByEmail(c *gin.Context) {
	p, err := h.svc.GetByEmail(c.Request.Context(), middleware.Values(c)["email"])
	if err != nil {
		abort(c, profileError(err))
		return
	}
	if err := h.authorize(c, p.ID); err != nil {
		abort(c, err)
		return
	}
	response.OK(c, http.StatusOK, "Profile retrieved", p)
}

// Update applies a partial profile. Role and token balance changes are
// reserved to administrators; owners may only set the email on their token.
func (h *ProfileHandler) Update(c *gin.Context) {
	id := middleware.Values(c)["id"]
	if err := h.authorize(c, id); err != nil {
		abort(c, err)
		return
	}
	var patch models.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		abort(c, response.BadRequest("Invalid profile payload"))
		return
	}
	ctx := c.Request.Context()
	admin := h.isAdmin(ctx, middleware.Subject(c))
	if (patch.Role != nil || patch.TokenBalance != nil) && !admin {
		abort(c, response.Forbidden("Only administrators can change roles or token balances"))
		return
	}
	if !admin {
		if err := ownEmail(c, patch.Email); err != nil {
			abort(c, err)
			return
		}
	}
	p, err := h.svc.Update(ctx, id, patch)
	if err != nil {
		abort(c, profileError(err))
		return
	}
	response.OK(c, http.StatusOK, "Profile updated", p)
}

// Delete removes a profile and, best effort, its pictures.
func (h *ProfileHandler) Delete(c *gin.Context) {
	id := middleware.Values(c)["id"]
	if err := h.authorize(c, id); err != nil {
		abort(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.svc.Delete(ctx, id); err != nil {
		abort(c, profileError(err))
		return
	}
	if h.avatars != nil {
		if err := h.avatars.RemovePrefix(ctx, storage.AvatarPrefix(id)); err != nil {
			logger.Warnw("removing profile pictures failed", "id", id, "err", err)
		}
	}
	response.OK(c, http.StatusOK, "Profile deleted", nil)
}

// CompleteOnboarding clears the caller's first-time flag.
func (h *ProfileHandler) CompleteOnboarding(c *gin.Context) {
	ctx := c.Request.Context()
	sub := middleware.Subject(c)
	before, err := h.svc.GetByID(ctx, sub)
	if err != nil {
		abort(c, profileError(err))
		return
	}
	p, err := h.svc.CompleteOnboarding(ctx, sub)
	if err != nil {
		abort(c, profileError(err))
		return
	}
	if before.IsFirstTimeUser {
		metrics.OnboardingCompleted.Inc()
	}
	response.OK(c, http.StatusOK, "Onboarding completed", p)
}

// UploadAvatar accepts a multipart "file" field holding a PNG, JPEG, WebP or
// GIF image and points profilePictureUrl at the stored object.
func (h *ProfileHandler) UploadAvatar(c *gin.Context) {
	id := middleware.Values(c)["id"]
	if err := h.authorize(c, id); err != nil {
		abort(c, err)
		return
	}
	if h.avatars == nil {
		abort(c, response.Upstream("Profile picture storage is not configured", nil))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, storage.MaxAvatarBytes+1<<20)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		abort(c, response.BadRequest("A picture must be uploaded in the \"file\" field"))
		return
	}
	defer file.Close()
	if header.Size > storage.MaxAvatarBytes {
		abort(c, response.BadRequest("Profile picture must be at most 5 MB"))
		return
	}
	ext, ok := storage.AvatarExtension(header.Header.Get("Content-Type"))
	if !ok {
		abort(c, response.BadRequest("Profile picture must be a PNG, JPEG, WebP or GIF image"))
		return
	}

	ctx := c.Request.Context()
	if _, err := h.svc.GetByID(ctx, id); err != nil {
		abort(c, profileError(err))
		return
	}
	url, err := h.avatars.Put(ctx, storage.AvatarKey(id, ext), file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		abort(c, response.Upstream("Profile picture upload failed", err))
		return
	}
	p, err := h.svc.Update(ctx, id, models.ProfilePatch{ProfilePictureURL: &url})
	if err != nil {
		abort(c, profileError(err))
		return
	}
	response.OK(c, http.StatusOK, "Profile picture updated", p)
}

// List pages through all profiles. Administrators only.
func (h *ProfileHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	if !h.isAdmin(ctx, middleware.Subject(c)) {
		abort(c, response.Forbidden("Administrator role required"))
		return
	}
	v := middleware.Values(c)
	opts := profiles.ListOptions{Sort: v["sort"], Role: v["role"]}
	opts.Page, _ = strconv.Atoi(v["page"])
	opts.Limit, _ = strconv.Atoi(v["limit"])
	opts.FirstTimeOnly = v["firstTimeOnly"] == "true"
	if s := v["createdAfter"]; s != "" {
		opts.CreatedAfter, _ = time.Parse(time.RFC3339, s)
	}
	res, err := h.svc.List(ctx, opts)
	if err != nil {
		abort(c, profileError(err))
		return
	}
	response.OK(c, http.StatusOK, "Profiles retrieved", res)
}
