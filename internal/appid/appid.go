// Package appid supplies the application identity used for config paths,
// environment prefixes and telemetry namespaces.
package appid

import (
	"context"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"
)

const (
	Vendor     = "lnagent"
	BinaryName = "lnagent"
	ConfigName = "lnagent"
	EnvPrefix  = "LNAGENT_"
)

// Default returns the built-in identity.
func Default() *appidentity.Identity {
	return &appidentity.Identity{
		Vendor:      Vendor,
		BinaryName:  BinaryName,
		ConfigName:  ConfigName,
		EnvPrefix:   EnvPrefix,
		Description: "rate-governed control loop for a Lightning tool worker",
	}
}

// Get returns the identity named by FULMEN_APP_IDENTITY_PATH when set, and
// the built-in identity otherwise.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	if strings.TrimSpace(os.Getenv(appidentity.EnvIdentityPath)) != "" {
		return appidentity.Get(ctx)
	}
	return Default(), nil
}
