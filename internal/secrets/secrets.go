// Package secrets reads credential tokens from AWS Secrets Manager.
//
// A reference names a secret and optionally a key inside it:
//
//	deskbridge/zendesk-token        the whole SecretString
//	deskbridge/tenants#acme_jira    field acme_jira of a JSON secret
//
// Values are cached for the lifetime of a Resolver, so a secret shared by
// several links is fetched once per load. Secret values are never logged.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrAccessDenied   = errors.New("access denied to secret")
	ErrSecretEmpty    = errors.New("secret value is empty")
	ErrKeyNotFound    = errors.New("key not found in secret")
)

// API is the part of the Secrets Manager client the resolver uses.
type API interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Resolver turns secret references into token values.
type Resolver struct {
	api    API
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]string
}

// New creates a resolver over api.
func New(api API, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{api: api, logger: logger, cache: make(map[string]string)}
}

// NewFromEnvironment creates a resolver using the default AWS credential
// chain (environment, shared config, instance role).
func NewFromEnvironment(ctx context.Context, logger *slog.Logger) (*Resolver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return New(secretsmanager.NewFromConfig(cfg), logger), nil
}

// Token returns the value a reference points to.
func (r *Resolver) Token(ctx context.Context, ref string) (string, error) {
	name, key, _ := strings.Cut(strings.TrimSpace(ref), "#")
	if name == "" {
		return "", fmt.Errorf("secret reference %q has no secret name", ref)
	}

	raw, err := r.secret(ctx, name)
	if err != nil {
		return "", err
	}
	if key == "" {
		return raw, nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return "", fmt.Errorf("secret %s is not a JSON object, cannot read key %s", name, key)
	}
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("secret %s: %w: %s", name, ErrKeyNotFound, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("secret %s key %s: %w", name, key, ErrSecretEmpty)
	}
	return s, nil
}

func (r *Resolver) secret(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	if v, ok := r.cache[name]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	r.logger.Debug("retrieving secret", "secret_name", name)
	out, err := r.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "ResourceNotFoundException":
				return "", fmt.Errorf("secret %s: %w", name, ErrSecretNotFound)
			case "AccessDeniedException":
				return "", fmt.Errorf("secret %s: %w", name, ErrAccessDenied)
			}
		}
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	var value string
	switch {
	case out.SecretString != nil:
		value = *out.SecretString
	case out.SecretBinary != nil:
		value = string(out.SecretBinary)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("secret %s: %w", name, ErrSecretEmpty)
	}

	r.mu.Lock()
	r.cache[name] = value
	r.mu.Unlock()
	return value, nil
}
