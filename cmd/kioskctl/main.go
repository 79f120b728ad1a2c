// kioskctl is the operator tool for the key vending machines. It builds and
// signs commands with the configured secret and can send them to a machine
// directly, bypassing the kiosk flow.
//
// Usage:
//
//	kioskctl [--config path] <command> [flags] [machine]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"keymatic-backend/config"
	"keymatic-backend/internal/auth"
	"keymatic-backend/internal/command"
	"keymatic-backend/internal/device"
	"keymatic-backend/internal/dispatch"
	"keymatic-backend/internal/signing"
	"keymatic-backend/internal/timesrc"
)

var errUsage = errors.New("usage error")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type env struct {
	cfg *config.Config
	out io.Writer
}

func run(args []string, out io.Writer) error {
	global := pflag.NewFlagSet("kioskctl", pflag.ContinueOnError)
	global.SetInterspersed(false)
	configPath := global.String("config", defaultConfigPath(), "path to the YAML configuration")
	global.BoolP("help", "h", false, "show help")

	if err := global.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			printHelp(out, global)
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if help, _ := global.GetBool("help"); help || global.NArg() == 0 {
		printHelp(out, global)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", *configPath, err)
	}
	e := &env{cfg: cfg, out: out}

	name, rest := global.Arg(0), global.Args()[1:]
	switch name {
	case "sign":
		return e.sign(rest)
	case "verify":
		return e.verify(rest)
	case "token":
		return e.token(rest)
	case "open-door", "status", "release", "scan", "refresh":
		return e.send(name, rest)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "./config/config.yaml"
}

func printHelp(out io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(out, `kioskctl: sign and send key machine commands.

Commands:
  sign      --device PI|ESP --type T --action A [--slot N] [--window D]
  verify    --cmd CMD --sig SIG
  token     --subject S [--role R] [--ttl D]
  open-door MACHINE
  status    MACHINE
  release   MACHINE --slot N
  scan      MACHINE --slot N
  refresh   MACHINE [--window D]

Global flags:
%s`, flagSet.FlagUsages())
}

func (e *env) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (e *env) controller() (*device.Controller, error) {
	loc, err := e.cfg.Signing.Location()
	if err != nil {
		return nil, err
	}
	var clock timesrc.Source = timesrc.Local{}
	if e.cfg.TimeService.URL != "" {
		clock = timesrc.NewTrusted(e.cfg.TimeService.URL, e.cfg.TimeService.Timeout, e.cfg.TimeService.CacheFor)
	}
	sender := dispatch.New(dispatch.StaticResolver(e.cfg.Machines), e.cfg.Dispatch.Timeout)
	return device.NewController(signing.NewSigner(e.cfg.Signing.Secret), sender, clock, loc), nil
}

func (e *env) sign(args []string) error {
	fs := pflag.NewFlagSet("sign", pflag.ContinueOnError)
	dev := fs.String("device", "PI", "device class (PI or ESP)")
	typ := fs.String("type", "", "command type, e.g. DOOR")
	action := fs.String("action", "", "command action, e.g. OPEN")
	slot := fs.Int("slot", -1, "target slot; omitted when negative")
	window := fs.Duration("window", 0, "sign a windowed command valid for this long")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *typ == "" || *action == "" {
		return fmt.Errorf("%w: --type and --action are required", errUsage)
	}

	class := command.DeviceClass(strings.ToUpper(*dev))
	if class != command.DevicePI && class != command.DeviceESP {
		return fmt.Errorf("%w: --device must be PI or ESP", errUsage)
	}

	c, err := e.controller()
	if err != nil {
		return err
	}

	now := time.Now()
	t, a := strings.ToUpper(*typ), strings.ToUpper(*action)
	var cmd command.Command
	switch {
	case *window > 0:
		cmd = command.Windowed(class, t, a, now, now.Add(*window))
	case *slot >= 0:
		cmd = command.ForSlot(class, t, *slot, a, now)
	default:
		cmd = command.New(class, t, a, now)
	}

	signed, err := c.Sign(cmd)
	if err != nil {
		return err
	}
	return e.printJSON(signed)
}

func (e *env) verify(args []string) error {
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	cmd := fs.String("cmd", "", "exact command string")
	sig := fs.String("sig", "", "base64 signature")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *cmd == "" || *sig == "" {
		return fmt.Errorf("%w: --cmd and --sig are required", errUsage)
	}

	if err := signing.Verify(e.cfg.Signing.Secret, *cmd, *sig); err != nil {
		return err
	}
	fmt.Fprintln(e.out, "signature OK")
	return nil
}

func (e *env) token(args []string) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	subject := fs.String("subject", "", "token subject (operator or owner id)")
	role := fs.String("role", e.cfg.Auth.AdminRole, "role claim")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	tokenCfg := auth.DefaultTokenConfig(e.cfg.Auth.JWTSecret)
	tokenCfg.Expiry = *ttl
	tok, err := auth.CreateToken(*subject, *role, tokenCfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, tok)
	return nil
}

func (e *env) send(name string, args []string) error {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	slot := fs.Int("slot", 0, "slot number")
	window := fs.Duration("window", e.cfg.Whitelist.Window, "whitelist validity window")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: %s needs exactly one machine id", errUsage, name)
	}
	machine := fs.Arg(0)
	if (name == "release" || name == "scan") && *slot <= 0 {
		return fmt.Errorf("%w: --slot is required", errUsage)
	}

	c, err := e.controller()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Dispatch.Timeout+e.cfg.TimeService.Timeout)
	defer cancel()

	switch name {
	case "open-door":
		sig, err := c.OpenDoor(ctx, machine)
		if err != nil {
			return err
		}
		return e.printJSON(sig)
	case "status":
		sig, err := c.Status(ctx, machine)
		if err != nil {
			return err
		}
		return e.printJSON(sig)
	case "release":
		sig, err := c.ReleaseKey(ctx, machine, *slot)
		if err != nil {
			return err
		}
		return e.printJSON(sig)
	case "scan":
		res, err := c.ReadSlot(ctx, machine, *slot)
		if err != nil {
			return err
		}
		return e.printJSON(res)
	default:
		res, err := c.RefreshWhitelist(ctx, machine, *window)
		if err != nil {
			return err
		}
		return e.printJSON(res)
	}
}
