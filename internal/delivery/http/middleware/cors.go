package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// CORS allows the field-ops web clients to call the API and read tile
// images from other origins.
func CORS() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:  "*",
		AllowMethods:  "GET,POST,DELETE,OPTIONS",
		AllowHeaders:  "Content-Type,Accept,Accept-Language,Authorization",
		ExposeHeaders: "Content-Type,Content-Length",
		MaxAge:        300,
	})
}
