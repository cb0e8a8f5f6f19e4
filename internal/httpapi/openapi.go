package httpapi

import "fmt"

// frontDoorOpenAPI describes the front door's own fixed routes. Per-service
// documents are generated separately by serviceOpenAPI from each Service's
// stored Schema.
func frontDoorOpenAPI() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "NanoEdgeRT",
			"version": "2",
		},
		"paths": map[string]any{
			"/health":            map[string]any{"get": map[string]any{"summary": "Liveness probe"}},
			"/status":            map[string]any{"get": map[string]any{"summary": "Process and service status"}},
			"/jwt/create":        map[string]any{"post": map[string]any{"summary": "Mint an admin access token (localhost only)"}},
			"/api/v2/{svc}/{*}":  map[string]any{"summary": "Forward to a running service"},
			"/functions/v2/{fn}": map[string]any{"post": map[string]any{"summary": "Invoke a function"}},
		},
	}
}

// swaggerUIHTML renders a minimal Swagger UI page pointed at specURL,
// loaded from a CDN rather than vendored, matching the scale of a
// single-operator runtime's docs surface.
func swaggerUIHTML(specURL string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
  <title>NanoEdgeRT API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
  <script>
    window.onload = () => SwaggerUIBundle({url: %q, dom_id: '#swagger-ui'})
  </script>
</body>
</html>`, specURL)
}
