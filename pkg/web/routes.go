package web

import "github.com/gofiber/fiber/v3"

// RegisterRoutes mounts the flow API on app. Every route except /health goes
// through authenticate.
func RegisterRoutes(app *fiber.App, h *APIHandlers, authenticate fiber.Handler) {
	app.Get("/health", h.HealthCheck)

	app.Get("/node-types", authenticate, h.GetNodeTypes)

	f := app.Group("/flows", authenticate)
	f.Get("/", h.GetFlows)
	f.Post("/", h.CreateFlow)
	f.Post("/validate", h.ValidateFlow)
	f.Get("/by-name/:name", h.GetFlowByName)
	f.Get("/:id", h.GetFlow)
	f.Put("/:id", h.UpdateFlow)
	f.Patch("/:id", h.RenameFlow)
	f.Delete("/:id", h.DeleteFlow)
	f.Get("/:id/versions", h.GetFlowVersions)
	f.Get("/:id/plan", h.GetPlan)
	f.Get("/:id/toml", h.ReadToml)
	f.Put("/:id/toml", h.WriteToml)

	f.Post("/:id/nodes", h.AddNode)
	f.Put("/:id/nodes/:name", h.UpdateNode)
	f.Patch("/:id/nodes/:name/config", h.UpdateNodeConfig)
	f.Delete("/:id/nodes/:name", h.RemoveNode)

	f.Post("/:id/edges", h.AddEdge)
	f.Delete("/:id/edges", h.RemoveEdge)
}
