package validation

import "github.com/matedash/authbridge/internal/models"

// Sortable profile fields for list queries.
var ProfileSortFields = []string{"createdAt", "updatedAt", "email", "displayName", "tokenBalance"}

func emailField(in Source) Field {
	return Field{Name: "email", In: in, Rules: []Rule{Required("Email"), Email()}}
}

func personName(name, label string) Field {
	return Field{Name: name, Optional: true, Rules: []Rule{Trim(), Required(label), Length(label, 1, 50), Name(label)}}
}

var (
	SignIn = Schema{
		emailField(Body),
		{Name: "password", Rules: []Rule{Required("Password")}},
	}

	SignUp = Schema{
		emailField(Body),
		{Name: "password", Rules: []Rule{Required("Password"), Password()}},
		{Name: "displayName", Optional: true, Rules: []Rule{Trim(), Length("Display name", 1, 100)}},
	}

	ResetPassword = Schema{emailField(Body)}

	UpdatePassword = Schema{
		{Name: "password", Rules: []Rule{Required("Password"), Password()}},
	}

	Refresh = Schema{
		{Name: "refreshToken", Rules: []Rule{Required("Refresh token")}},
	}

	CreateProfile = Schema{
		emailField(Body),
		personName("firstName", "First name"),
		personName("lastName", "Last name"),
		{Name: "displayName", Optional: true, Rules: []Rule{Trim(), Length("Display name", 1, 100)}},
		{Name: "profilePictureUrl", Optional: true, Rules: []Rule{Trim(), URL("Profile picture URL")}},
		{Name: "loginRedirectUrl", Optional: true, Rules: []Rule{Trim(), Length("Login redirect URL", 1, 2048)}},
		{Name: "role", Optional: true, Rules: []Rule{OneOf("Role", models.RoleUser, models.RoleAdmin)}},
	}

	UpdateProfile = Schema{
		{Name: "email", Optional: true, Rules: []Rule{Email()}},
		personName("firstName", "First name"),
		personName("lastName", "Last name"),
		{Name: "displayName", Optional: true, Rules: []Rule{Trim(), Length("Display name", 1, 100)}},
		{Name: "profilePictureUrl", Optional: true, Rules: []Rule{Trim(), URL("Profile picture URL")}},
		{Name: "loginRedirectUrl", Optional: true, Rules: []Rule{Trim(), Length("Login redirect URL", 1, 2048)}},
		{Name: "role", Optional: true, Rules: []Rule{OneOf("Role", models.RoleUser, models.RoleAdmin)}},
		{Name: "tokenBalance", Optional: true, Rules: []Rule{Int("Token balance", 0, 1<<53)}},
	}

	ProfileIDParam = Schema{
		{Name: "id", In: Param, Rules: []Rule{Required("User id"), UUID("User id")}},
	}

	EmailParam = Schema{emailField(Param)}

	ListProfiles = Schema{
		{Name: "page", In: Query, Optional: true, Rules: []Rule{Page()}},
		{Name: "limit", In: Query, Optional: true, Rules: []Rule{Limit()}},
		{Name: "sort", In: Query, Optional: true, Rules: []Rule{SortField(ProfileSortFields...)}},
		{Name: "role", In: Query, Optional: true, Rules: []Rule{OneOf("Role", models.RoleUser, models.RoleAdmin)}},
		{Name: "createdAfter", In: Query, Optional: true, Rules: []Rule{Date("Created after")}},
		{Name: "firstTimeOnly", In: Query, Optional: true, Rules: []Rule{Bool("First time only")}},
	}
)
