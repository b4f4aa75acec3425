package main

// Backend blank imports: each import activates a self-registering executor
// or notifier adapter.

import (
	_ "github.com/Strob0t/decisiongate/internal/adapter/discord"
	_ "github.com/Strob0t/decisiongate/internal/adapter/email"
	_ "github.com/Strob0t/decisiongate/internal/adapter/logsink"
	_ "github.com/Strob0t/decisiongate/internal/adapter/slack"
	_ "github.com/Strob0t/decisiongate/internal/adapter/webhook"
)
