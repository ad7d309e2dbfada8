package xoscfg

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// EngineName is a parsed `ip[:port]` identity (spec §6 "Engine name
// format"). Supplemented from original_source/src/hixl/common/hixl_checker.h,
// which validates engine-name syntax before it reaches the control
// plane rather than leaving it implicit.
type EngineName struct {
	Raw      string
	Host     string
	Port     int  // 0 if unspecified
	Listens  bool // true iff Port > 0: process binds and listens
	IsIPv6   bool
}

// ParseEngineName accepts "host:port", "host", "[host]:port", or
// "[host]" per spec §6.
func ParseEngineName(s string) (EngineName, error) {
	en := EngineName{Raw: s}
	if s == "" {
		return en, errors.New("empty engine name")
	}

	if strings.HasPrefix(s, "[") {
		host, port, err := net.SplitHostPort(s)
		if err != nil {
			// "[host]" with no port
			if !strings.HasSuffix(s, "]") {
				return en, errors.Wrapf(err, "malformed ipv6 engine name %q", s)
			}
			en.Host = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
			en.IsIPv6 = true
			return en, validateHost(en.Host)
		}
		en.Host, en.IsIPv6 = host, true
		return en, en.setPort(port)
	}

	if host, port, err := net.SplitHostPort(s); err == nil {
		en.Host = host
		en.IsIPv6 = strings.Contains(host, ":")
		return en, en.setPort(port)
	}

	// bare host, no port
	en.Host = s
	en.IsIPv6 = strings.Contains(s, ":") && !strings.Contains(s, ".")
	return en, validateHost(en.Host)
}

func (en *EngineName) setPort(port string) error {
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return errors.Errorf("invalid port %q in engine name %q", port, en.Raw)
	}
	en.Port = p
	en.Listens = p > 0
	return validateHost(en.Host)
}

func validateHost(host string) error {
	if host == "" {
		return errors.New("empty host in engine name")
	}
	return nil
}

// Address returns the dialable "host:port" form, defaulting port to 0
// (which callers resolve against a known peer port) when unspecified.
func (en EngineName) Address() string {
	return net.JoinHostPort(en.Host, strconv.Itoa(en.Port))
}
