package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ibeckermayer/newsdigest/internal/store"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

// forbiddenBody is the single response for every verification failure.
const forbiddenBody = "This link is invalid."

type pageData struct {
	Email      string
	Token      string
	Subscribed bool
	Slot       types.Slot
	Slots      []types.Slot
	Notice     string
}

// authorize reads email and token from the form or query string and
// verifies them. On failure it has already answered 403.
func (s *Server) authorize(c *gin.Context) (identity, tok string, ok bool) {
	identity = c.PostForm("email")
	if identity == "" {
		identity = c.Query("email")
	}
	tok = c.PostForm("token")
	if tok == "" {
		tok = c.Query("token")
	}
	identity = types.NormalizeIdentity(identity)

	if err := s.tokens.Authorize(identity, tok); err != nil {
		s.logger.Warn("link verification failed", "path", c.Request.URL.Path)
		c.String(http.StatusForbidden, forbiddenBody)
		return "", "", false
	}
	return identity, tok, true
}

func (s *Server) page(identity, tok string, p types.Preference, notice string) pageData {
	return pageData{
		Email:      identity,
		Token:      tok,
		Subscribed: p.Subscribed,
		Slot:       p.PreferredSlot,
		Slots:      s.slots.Slots(),
		Notice:     notice,
	}
}

func (s *Server) serverError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, "error", err)
	c.String(http.StatusInternalServerError, "Something went wrong. Please try again later.")
}

func (s *Server) handleGetPreferences(c *gin.Context) {
	identity, tok, ok := s.authorize(c)
	if !ok {
		return
	}

	p, err := s.prefs.EnsurePreference(c.Request.Context(), identity)
	if err != nil {
		s.serverError(c, "failed to load preference", err)
		return
	}
	c.HTML(http.StatusOK, "preferences", s.page(identity, tok, p, ""))
}

func (s *Server) handlePostPreferences(c *gin.Context) {
	identity, tok, ok := s.authorize(c)
	if !ok {
		return
	}

	slot, known := s.parseSlot(c.PostForm("slot"))
	if !known {
		c.String(http.StatusBadRequest, "Unknown delivery slot.")
		return
	}
	subscribed := checked(c.PostForm("subscribed"))

	p, err := s.prefs.UpsertPreference(c.Request.Context(), identity, store.PreferenceUpdate{
		Subscribed:    &subscribed,
		PreferredSlot: &slot,
	})
	if err != nil {
		s.serverError(c, "failed to update preference", err)
		return
	}
	s.logger.Info("preference updated", "subscribed", p.Subscribed, "slot", p.PreferredSlot)
	c.HTML(http.StatusOK, "preferences", s.page(identity, tok, p, "Your preferences were saved."))
}

func (s *Server) handleGetUnsubscribe(c *gin.Context) {
	identity, tok, ok := s.authorize(c)
	if !ok {
		return
	}
	c.HTML(http.StatusOK, "unsubscribe", pageData{Email: identity, Token: tok})
}

func (s *Server) handlePostUnsubscribe(c *gin.Context) {
	identity, tok, ok := s.authorize(c)
	if !ok {
		return
	}

	off := false
	p, err := s.prefs.UpsertPreference(c.Request.Context(), identity, store.PreferenceUpdate{Subscribed: &off})
	if err != nil {
		s.serverError(c, "failed to unsubscribe", err)
		return
	}
	s.logger.Info("recipient unsubscribed")
	c.HTML(http.StatusOK, "unsubscribed", s.page(identity, tok, p, ""))
}

func (s *Server) parseSlot(value string) (types.Slot, bool) {
	value = strings.TrimSpace(value)
	for _, slot := range s.slots.Slots() {
		if string(slot) == value {
			return slot, true
		}
	}
	return "", false
}

func checked(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}
