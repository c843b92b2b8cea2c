package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalid = errors.New("invalid config")

	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()
		v.RegisterTagNameFunc(jsonTagName)
		validate = v
	})
	return validate
}

// Validate checks field constraints, durations and cross-field rules.
// Errors wrap ErrInvalid and name the offending key.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	if err := validatorInstance().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalid, trimRoot(fe.Namespace()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("%w: telegram.token is required (or set %s)", ErrInvalid, EnvTelegramToken)
	}
	if !hasCredential(cfg.Upstream.Credentials) {
		return fmt.Errorf("%w: upstream.credentials must hold at least one token (or set %s)", ErrInvalid, EnvUpstreamTokens)
	}
	if _, err := cfg.Runtime(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := checkOpsExposure(cfg.Ops); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if tz := strings.TrimSpace(cfg.Schedules.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("%w: schedules.timezone: %v", ErrInvalid, err)
		}
	}
	return nil
}

func hasCredential(creds []string) bool {
	for _, c := range creds {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}

// checkOpsExposure refuses an unauthenticated ops server on a non-loopback address.
func checkOpsExposure(o OpsConfig) error {
	if !o.Enabled || o.AllowInsecure || strings.TrimSpace(o.Token) != "" {
		return nil
	}
	host, _, err := net.SplitHostPort(opsAddr(o))
	if err != nil {
		return fmt.Errorf("ops.addr: %v", err)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("ops.addr %q is not loopback; set ops.token or ops.allow_insecure", o.Addr)
}

func jsonTagName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

func trimRoot(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
