package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger serves a small Swagger UI page and the OpenAPI document
// for the auth and profile routes.
// - GET /swagger/index.html
// - GET /swagger/doc.json
func RegisterSwagger(r *gin.Engine) {
	r.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})
	r.GET("/swagger/doc.json", func(c *gin.Context) {
		c.JSON(http.StatusOK, openAPIDoc)
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>authbridge - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

type apiOp struct {
	method, path, summary string
	bearer                bool
	body                  []string
}

var apiOps = []apiOp{
	{"post", "/api/auth/signin", "Sign in with email and password", false, []string{"email", "password"}},
	{"post", "/api/auth/signup", "Register an account", false, []string{"email", "password", "displayName"}},
	{"post", "/api/auth/reset-password", "Send a password reset email", false, []string{"email"}},
	{"post", "/api/auth/refresh", "Exchange a refresh token for a new session", false, []string{"refreshToken"}},
	{"post", "/api/auth/signout", "Revoke the current session", true, nil},
	{"put", "/api/auth/update-password", "Change the caller's password", true, []string{"password"}},
	{"get", "/api/auth/me", "Profile of the caller", true, nil},
	{"post", "/api/auth/user", "Create the caller's profile", true, []string{"email", "firstName", "lastName", "displayName", "profilePictureUrl", "loginRedirectUrl"}},
	{"get", "/api/auth/user/{id}", "Profile by identity id", true, nil},
	{"put", "/api/auth/user/{id}", "Update a profile", true, []string{"email", "firstName", "lastName", "displayName", "profilePictureUrl", "loginRedirectUrl", "role", "tokenBalance"}},
	{"delete", "/api/auth/user/{id}", "Delete a profile", true, nil},
	{"post", "/api/auth/user/{id}/avatar", "Upload a profile picture (multipart field \"file\")", true, nil},
	{"get", "/api/auth/user-by-email/{email}", "Profile by email", true, nil},
	{"post", "/api/auth/complete-onboarding", "Mark the caller as onboarded", true, nil},
	{"get", "/api/auth/users", "List profiles (administrators)", true, nil},
	{"get", "/health", "Liveness and dependency status", false, nil},
	{"get", "/ready", "Readiness", false, nil},
}

var openAPIDoc = buildOpenAPI()

func buildOpenAPI() gin.H {
	paths := gin.H{}
	for _, op := range apiOps {
		item, ok := paths[op.path].(gin.H)
		if !ok {
			item = gin.H{}
			paths[op.path] = item
		}
		o := gin.H{
			"summary":   op.summary,
			"responses": gin.H{"default": gin.H{"$ref": "#/components/responses/Envelope"}},
		}
		if op.bearer {
			o["security"] = []gin.H{{"bearerAuth": []string{}}}
		}
		if len(op.body) > 0 {
			props := gin.H{}
			for _, f := range op.body {
				props[f] = gin.H{"type": "string"}
			}
			o["requestBody"] = gin.H{"content": gin.H{"application/json": gin.H{
				"schema": gin.H{"type": "object", "properties": props},
			}}}
		}
		item[op.method] = o
	}
	return gin.H{
		"openapi": "3.0.0",
		"info":    gin.H{"title": "authbridge", "version": "v1.0.0"},
		"paths":   paths,
		"components": gin.H{
			"securitySchemes": gin.H{"bearerAuth": gin.H{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"}},
			"responses": gin.H{"Envelope": gin.H{
				"description": "{success, message, data?, error?{type, code, timestamp, details?}}",
			}},
		},
	}
}
