package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dot-do/todo/internal/config"
	"github.com/dot-do/todo/internal/github"
	"github.com/dot-do/todo/internal/sync"
	"github.com/dot-do/todo/internal/types"
)

// newTokenSource builds GitHub credentials from config: a personal
// access token when github.token is set, otherwise App credentials
// (app_id plus private_key_path).
func newTokenSource() (github.TokenSource, error) {
	if token := config.GetString(config.KeyGitHubToken); token != "" {
		return github.StaticTokenSource(token), nil
	}

	appID := config.GetString(config.KeyGitHubAppID)
	keyPath := config.GetString(config.KeyGitHubPrivateKeyPath)
	if appID == "" || keyPath == "" {
		return nil, fmt.Errorf("no GitHub credentials: set github.token or github.app_id + github.private_key_path")
	}
	pem, err := os.ReadFile(keyPath) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	source, err := github.NewAppTokenSource(appID, pem)
	if err != nil {
		return nil, err
	}
	if base := config.GetString(config.KeyGitHubBaseURL); base != "" {
		source = source.WithBaseURL(base)
	}
	return source, nil
}

// newGitHubClient builds an API client bound to one installation.
func newGitHubClient(installationID int64) (*github.Client, error) {
	tokens, err := newTokenSource()
	if err != nil {
		return nil, err
	}
	client := github.NewClient(tokens, installationID)
	if base := config.GetString(config.KeyGitHubBaseURL); base != "" {
		client = client.WithBaseURL(base)
	}
	return client, nil
}

// newSyncEngine builds a sync engine for one tracked repo.
func newSyncEngine(repo *types.Repo, strategy sync.Strategy) (*sync.Engine, error) {
	client, err := newGitHubClient(repo.InstallationID)
	if err != nil {
		return nil, err
	}
	codec, err := config.Codec()
	if err != nil {
		return nil, err
	}
	return sync.New(store, client, codec, sync.Options{
		Owner:          repo.Owner,
		Repo:           repo.Name,
		InstallationID: repo.InstallationID,
		Strategy:       strategy,
		Retry:          config.RetryConfig(),
		Logger:         logger,
	}), nil
}

// parseRepoArg splits an "owner/name" argument.
func parseRepoArg(arg string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(arg, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("expected owner/repo, got %q", arg)
	}
	return owner, name, nil
}
