// Package http exposes the rental broker over JSON/HTTP.
//
// All routes live under /api:
//   - POST /auth/register, POST /auth/sessions, POST /auth/sessions/refresh and
//     DELETE /auth/sessions/current manage accounts and sessions. Issued tokens
//     are returned in the body and also set as the `session_token` cookie.
//   - GET /listings browses approved listings; GET /listings/{id} reads one.
//     POST /listings, PUT /listings/{id} and POST /listings/{id}/submit,
//     /decision and /revise drive the moderation lifecycle.
//   - POST /listings/{id}/viewings proposes viewing slots. GET /viewings/{id},
//     POST /viewings/{id}/decision and POST /viewings/{id}/cancel negotiate them.
//   - GET /me/listings and GET /me/viewings?as=renter|landlord list the
//     caller's own records. GET /admin/listings/pending is the moderation queue.
//   - GET /users and PUT /users/{id}/role are administrator endpoints.
//
// Request bodies are checked against the JSON Schemas embedded from schemas/
// before they are decoded into the DTOs defined next to each handler.
package http
