package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"sshbridge/internal/config"
	"sshbridge/internal/crypto"
	"sshbridge/internal/events"
	"sshbridge/internal/logging"
	"sshbridge/internal/models"
	"sshbridge/internal/session"
	sshpkg "sshbridge/internal/ssh"
	"sshbridge/internal/transfer"

	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"
)

const usage = `usage: sshbridge <command> [args]

commands:
  list                                  list saved connections
  add -name N -host H -user U [opts]    save a connection
  remove <name>                         delete a saved connection
  connect <name>                        open an interactive shell
  exec <name> <command...>              run a command and print its output
  upload <name> <local> <remote>        upload a file or directory
  download <name> <remote> <local>      download a file or directory
  ls <name> <remote-dir>                list a remote directory
  tunnel <name> <local> <remote>        forward a local port (ctrl-c stops)
`

// app bundles everything a subcommand needs.
type app struct {
	eng      config.Engine
	store    *config.Manager
	bus      *events.Bus
	registry *session.Registry
	transfer *transfer.Engine
}

func newApp() (*app, error) {
	logging.Initialize(false)
	log := logging.Logger

	eng, err := config.EngineFromEnv()
	if err != nil {
		return nil, err
	}

	var cipher *crypto.Cipher
	if key := os.Getenv("SSHBRIDGE_MASTER_KEY"); key != "" {
		cipher = crypto.NewCipher(key)
	}
	store := config.NewManager(os.Getenv("SSHBRIDGE_CONFIG"), cipher)
	if err := store.Load(); err != nil {
		return nil, err
	}

	bus := events.NewBus(256, log)
	registry := session.NewRegistry(eng, bus, log)
	return &app{
		eng:      eng,
		store:    store,
		bus:      bus,
		registry: registry,
		transfer: transfer.NewEngine(registry, bus, eng, log),
	}, nil
}

// connect dials the named stored connection and returns its session id.
// An unknown host key gets one interactive trust prompt; a changed key
// never does.
func (a *app) connect(name string) (string, error) {
	cfg, err := a.store.Get(name)
	if err != nil {
		return "", err
	}
	id, err := a.registry.Connect(cfg)
	if err == nil {
		return id, nil
	}

	var keyErr *knownhosts.KeyError
	if cfg.KnownHostsPath == "" || !errors.As(err, &keyErr) || len(keyErr.Want) != 0 {
		return "", err
	}
	key, fingerprint, ferr := sshpkg.FetchHostKey(cfg)
	if ferr != nil {
		return "", err
	}
	fmt.Fprintf(os.Stderr, "the authenticity of host %s can't be established.\n", cfg.Addr())
	fmt.Fprintf(os.Stderr, "%s key fingerprint is %s.\n", key.Type(), fingerprint)
	if !confirm("are you sure you want to continue connecting?") {
		return "", err
	}
	if aerr := sshpkg.AcceptHostKey(cfg.KnownHostsPath, cfg, key); aerr != nil {
		return "", aerr
	}
	return a.registry.Connect(cfg)
}

func confirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "list":
		err = runList()
	case "add":
		err = runAdd(os.Args[2:])
	case "remove":
		err = runRemove(os.Args[2:])
	case "connect":
		err = runConnect(os.Args[2:])
	case "exec":
		err = runExec(os.Args[2:])
	case "upload":
		err = runTransfer(os.Args[2:], models.DirectionUpload)
	case "download":
		err = runTransfer(os.Args[2:], models.DirectionDownload)
	case "ls":
		err = runLs(os.Args[2:])
	case "tunnel":
		err = runTunnel(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sshbridge: %v\n", err)
		os.Exit(1)
	}
}

func runList() error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.registry.Close()

	conns := a.store.List()
	if len(conns) == 0 {
		fmt.Println("no saved connections")
		return nil
	}
	for _, c := range conns {
		line := fmt.Sprintf("%-20s %s@%s", c.Name, c.Username, c.Addr())
		if c.Jump != nil {
			line += " (via " + c.Jump.Host + ")"
		}
		if c.Group != "" {
			line += "  [" + c.Group + "]"
		}
		fmt.Println(line)
	}
	return nil
}

func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	name := fs.String("name", "", "connection name")
	host := fs.String("host", "", "host to connect to")
	port := fs.Int("port", 22, "port")
	user := fs.String("user", "", "username")
	auth := fs.String("auth", "agent", "auth method: password, key or agent")
	keyPath := fs.String("key", "", "private key path (auth=key)")
	group := fs.String("group", "", "optional group label")
	jump := fs.String("jump", "", "name of a saved connection to use as jump host")
	fs.Parse(args)

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.registry.Close()

	cfg := models.ConnectionConfig{
		Name:       *name,
		Host:       *host,
		Port:       *port,
		Username:   *user,
		AuthMethod: models.AuthMethod(*auth),
		KeyPath:    *keyPath,
		Group:      *group,
	}
	if *jump != "" {
		hop, err := a.store.Get(*jump)
		if err != nil {
			return err
		}
		cfg.Jump = hop
	}
	switch cfg.AuthMethod {
	case models.AuthPassword:
		pw, err := promptSecret(fmt.Sprintf("password for %s@%s: ", cfg.Username, cfg.Host))
		if err != nil {
			return err
		}
		cfg.Password = pw
	case models.AuthKey:
		pp, err := promptSecret("key passphrase (empty for none): ")
		if err != nil {
			return err
		}
		cfg.Passphrase = pp
	}
	if err := a.store.Add(cfg); err != nil {
		return err
	}
	fmt.Printf("saved %s\n", cfg.Name)
	return nil
}

func runRemove(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: sshbridge remove <name>")
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.registry.Close()
	if err := a.store.Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", args[0])
	return nil
}

func runExec(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: sshbridge exec <name> <command...>")
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.registry.Close()

	id, err := a.connect(args[0])
	if err != nil {
		return err
	}

	res, err := a.registry.Exec(id, "", strings.Join(args[1:], " "))
	a.registry.Remove(id)
	if err != nil {
		return err
	}
	os.Stdout.Write(res.Output)
	if res.ExitStatus != 0 {
		// Disconnect cleanly before propagating the remote status;
		// os.Exit would skip the deferred registry Close.
		a.registry.Close()
		os.Exit(res.ExitStatus)
	}
	return nil
}

func runLs(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: sshbridge ls <name> <remote-dir>")
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.registry.Close()

	id, err := a.connect(args[0])
	if err != nil {
		return err
	}
	defer a.registry.Remove(id)

	entries, err := a.registry.ReadDir(id, args[1])
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s %12s  %s\n", e.Mode(), humanBytes(e.Size()), e.Name())
	}
	return nil
}

func runTunnel(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: sshbridge tunnel <name> <local-addr> <remote-addr>")
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.registry.Close()

	id, err := a.connect(args[0])
	if err != nil {
		return err
	}
	defer a.registry.Remove(id)

	tun, err := a.registry.Forward(id, args[1], args[2])
	if err != nil {
		return err
	}
	defer tun.Close()
	fmt.Printf("forwarding %s -> %s (ctrl-c to stop)\n", tun.LocalAddr(), args[2])

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}

func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("could not read secret: %v", err)
	}
	return string(b), nil
}
