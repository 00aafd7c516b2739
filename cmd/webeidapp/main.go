// Command webeidapp is the native-messaging helper browsers launch on
// behalf of the Web eID extension: it reads commands from stdin, talks to
// the host's PC/SC and PKCS#11 stack, and writes responses to stdout.
package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/webeid-native/webeid-app/internal/apperrors"
	"github.com/webeid-native/webeid-app/internal/audit"
	"github.com/webeid-native/webeid-app/internal/card"
	"github.com/webeid-native/webeid-app/internal/card/pcsc"
	"github.com/webeid-native/webeid-app/internal/card/pkcs11cert"
	"github.com/webeid-native/webeid-app/internal/config"
	"github.com/webeid-native/webeid-app/internal/controller"
	"github.com/webeid-native/webeid-app/internal/ui"
	"github.com/webeid-native/webeid-app/internal/worker"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 on a clean quit/EOF, 1 on
// configuration or startup failure, 2 on a native-messaging framing
// violation.
func run() int {
	logger := newLogger()
	defer logger.Sync()

	opts, err := config.ParseArgs(os.Args[1:], os.Getenv("WEBEID_UI_BACKEND"))
	if err != nil {
		logger.Error("invalid startup arguments", zap.Error(err))
		return 1
	}

	facade, monitor, cleanup, err := buildCardFacade(logger)
	if err != nil {
		logger.Error("failed to initialize card subsystem", zap.Error(err))
		return 1
	}
	defer cleanup()

	uiFacade := buildUIFacade(opts)
	defer uiFacade.Close()

	auditLogger, err := audit.NewLogger(defaultAuditLogPath())
	if err != nil {
		logger.Warn("audit logging disabled", zap.Error(err))
		auditLogger = nil
	}

	ctrl := controller.New(facade, uiFacade, opts, auditLogger, logger, monitor)

	if err := ctrl.Run(context.Background(), os.Stdin, os.Stdout); err != nil {
		var framing *apperrors.FramingError
		if errors.As(err, &framing) {
			logger.Error("native-messaging framing error", zap.Error(err))
			return 2
		}
		logger.Error("controller exited with error", zap.Error(err))
		return 1
	}
	return 0
}

func buildCardFacade(logger *zap.Logger) (card.Facade, *worker.CardEventMonitor, func(), error) {
	readerMonitor, err := pcsc.NewMonitor()
	if err != nil {
		return nil, nil, func() {}, err
	}

	modulePath := pkcs11ModulePath()
	client, err := pkcs11cert.New(modulePath)
	if err != nil {
		readerMonitor.Close()
		return nil, nil, func() {}, err
	}

	facade := card.NewFacade(readerMonitor, client)

	cardMonitor, err := worker.StartCardEventMonitor(context.Background(), facade)
	if err != nil {
		logger.Warn("card-event monitor unavailable, falling back to in-call removal detection", zap.Error(err))
		cardMonitor = nil
	}

	cleanup := func() {
		if cardMonitor != nil {
			cardMonitor.Stop()
		}
		client.Close()
		readerMonitor.Close()
	}
	return facade, cardMonitor, cleanup, nil
}

func buildUIFacade(opts config.Options) ui.Facade {
	return ui.NewTerminal()
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func pkcs11ModulePath() string {
	if p := os.Getenv("WEBEID_PKCS11_MODULE"); p != "" {
		return p
	}
	return defaultPKCS11ModulePath()
}

func defaultPKCS11ModulePath() string {
	switch {
	case fileExists("/usr/lib/x86_64-linux-gnu/opensc-pkcs11.so"):
		return "/usr/lib/x86_64-linux-gnu/opensc-pkcs11.so"
	case fileExists("/usr/lib/opensc-pkcs11.so"):
		return "/usr/lib/opensc-pkcs11.so"
	default:
		return "/usr/lib/x86_64-linux-gnu/opensc-pkcs11.so"
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func defaultAuditLogPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "webeid-app", "audit.ndjson")
}
