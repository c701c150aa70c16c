package handlers

import (
	tgbot "github.com/go-telegram/bot"
)

// RegisteredHandler is a console command with its match rule and middleware.
type RegisteredHandler struct {
	HandlerType tgbot.HandlerType
	Pattern     string
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
	MatchType   tgbot.MatchType
}

// RegisterAllCommands returns every console command keyed by its slash form.
// All of them are admin-only.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	admin := []tgbot.Middleware{AdminOnly(deps)}
	command := func(pattern string, h tgbot.HandlerFunc) RegisteredHandler {
		return RegisteredHandler{
			HandlerType: tgbot.HandlerTypeMessageText,
			Pattern:     pattern,
			Handler:     h,
			MatchType:   tgbot.MatchTypeCommandStartOnly,
			Middleware:  admin,
		}
	}

	return map[string]RegisteredHandler{
		"/help":         command("help", NewHelpHandler(deps)),
		"/status":       command("status", NewStatusHandler(deps)),
		"/conversation": command("conversation", NewConversationHandler(deps)),
		"/sweep":        command("sweep", NewSweepHandler(deps)),
	}
}
