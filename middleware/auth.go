package middleware

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/deemkeen/pubcore/storage"
	"github.com/deemkeen/pubcore/util"
	gossh "golang.org/x/crypto/ssh"
)

// OperatorKeys maps a local username to the key allowed to operate it.
type OperatorKeys map[string]ssh.PublicKey

// ParseOperators parses the authorized_keys lines of the operators config.
func ParseOperators(operators map[string]string) (OperatorKeys, error) {
	keys := OperatorKeys{}
	for username, line := range operators {
		key, _, _, _, err := gossh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("invalid key for operator %s: %w", username, err)
		}
		keys[username] = key
	}
	return keys, nil
}

// Allows reports whether key may log in as username.
func (k OperatorKeys) Allows(username string, key ssh.PublicKey) bool {
	allowed, ok := k[username]
	return ok && key != nil && ssh.KeysEqual(allowed, key)
}

// PublicKeyHandler accepts only the configured key of the requested user.
func PublicKeyHandler(keys OperatorKeys, logger *log.Logger) ssh.PublicKeyHandler {
	return func(ctx ssh.Context, key ssh.PublicKey) bool {
		ok := keys.Allows(ctx.User(), key)
		if !ok {
			logger.Warn("Rejected SSH login", "user", ctx.User(), "remote", ctx.RemoteAddr(), "key", gossh.FingerprintSHA256(key))
		}
		return ok
	}
}

// AuthMiddleware ends sessions of operators without a local account.
func AuthMiddleware(store storage.Provider, logger *log.Logger) wish.Middleware {
	return func(h ssh.Handler) ssh.Handler {
		return func(s ssh.Session) {
			exists, err := store.HasUser(s.User())
			switch {
			case err != nil:
				logger.Error("Could not look up operator account", "user", s.User(), "err", err)
				wish.Fatalln(s, "internal error")
				return
			case !exists:
				logger.Warn("Operator has no local account", "user", s.User())
				wish.Fatalln(s, fmt.Sprintf("no local account %s, create it with '%s useradd %s'", s.User(), util.Name, s.User()))
				return
			}
			logger.Info("Operator logged in", "user", s.User(), "key", util.PublicKeyToString(s.PublicKey()))
			h(s)
		}
	}
}
