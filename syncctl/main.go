package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/bringyour/syncsocket/syncsocket"
)

const SyncCtlVersion = "0.0.1"

const DefaultUrl = "ws://localhost:8080/socket"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(`Sync socket control.

The url and jwt default to $SYNCCTL_URL and $SYNCCTL_JWT, which may be set in a .env file.
The default url is %s

Values and arguments are parsed as json when they are valid json, otherwise they are strings.

Usage:
    syncctl send [--url=<url>] [--jwt=<jwt>] [--debug] <message>
    syncctl publish [--url=<url>] [--jwt=<jwt>] [--debug] <event> [<data>]
    syncctl subscribe [--url=<url>] [--jwt=<jwt>] [--debug]
        [--message_count=<message_count>] <event>...
    syncctl call [--url=<url>] [--jwt=<jwt>] [--debug]
        [--timeout=<timeout>] <name> [<arg>...]
    syncctl serve [--url=<url>] [--jwt=<jwt>] [--debug]
    syncctl watch [--url=<url>] [--jwt=<jwt>] [--debug]
        (--global=<name> | --group=<group> --name=<name> | --client=<name>)
    syncctl set [--url=<url>] [--jwt=<jwt>] [--debug] <name> <key> <value>

Options:
    -h --help                        Show this screen.
    --version                        Show version.
    --url=<url>                      Peer websocket url.
    --jwt=<jwt>                      Bearer jwt sent with the handshake.
    --debug                          Log every command in and out.
    --message_count=<message_count>  Print this many events then exit.
    --timeout=<timeout>              Call timeout [default: 30s].
    --global=<name>                  Watch a global object.
    --group=<group>                  Group of the watched object.
    --name=<name>                    Name of the watched group object.
    --client=<name>                  Watch a client object.`, DefaultUrl)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], SyncCtlVersion)
	if err != nil {
		panic(err)
	}

	// a missing .env is fine
	godotenv.Load()

	if send_, _ := opts.Bool("send"); send_ {
		send(opts)
	} else if publish_, _ := opts.Bool("publish"); publish_ {
		publish(opts)
	} else if subscribe_, _ := opts.Bool("subscribe"); subscribe_ {
		subscribe(opts)
	} else if call_, _ := opts.Bool("call"); call_ {
		call(opts)
	} else if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if set_, _ := opts.Bool("set"); set_ {
		set(opts)
	}
}

// connect returns an online client. Exits if the peer does not complete the handshake.
func connect(ctx context.Context, opts docopt.Opts) *syncsocket.Client {
	url, _ := opts.String("--url")
	if url == "" {
		url = os.Getenv("SYNCCTL_URL")
	}
	if url == "" {
		url = DefaultUrl
	}
	jwt, _ := opts.String("--jwt")
	if jwt == "" {
		jwt = os.Getenv("SYNCCTL_JWT")
	}
	debug, _ := opts.Bool("--debug")

	settings := syncsocket.DefaultClientSettings()
	settings.AutoConnect = false
	settings.Debug = debug
	if jwt != "" {
		settings.Auth = &syncsocket.ClientAuth{
			ByJwt:      jwt,
			AppVersion: fmt.Sprintf("syncctl %s", SyncCtlVersion),
		}
	}

	client := syncsocket.NewClient(ctx, url, settings)

	open := make(chan struct{}, 1)
	client.OnOpen(func() {
		select {
		case open <- struct{}{}:
		default:
		}
	})
	client.OnDisconnect(func() {
		Err.Printf("Disconnected from %s. Reconnecting.\n", url)
	})
	client.OnClose(func() {
		Err.Printf("Closed.\n")
	})
	client.Connect()

	select {
	case <-open:
		return client
	case <-time.After(30 * time.Second):
		Err.Printf("Could not connect to %s.\n", url)
		os.Exit(1)
		return nil
	}
}

func interrupted(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// parseValue reads json when it can, otherwise keeps the string
func parseValue(s string) any {
	var value any
	if err := json.Unmarshal([]byte(s), &value); err == nil {
		return value
	}
	return s
}

func printJson(value any) {
	var b []byte
	var err error
	if term.IsTerminal(int(os.Stdout.Fd())) {
		b, err = json.MarshalIndent(value, "", "    ")
	} else {
		b, err = json.Marshal(value)
	}
	if err != nil {
		Out.Printf("%v\n", value)
		return
	}
	Out.Printf("%s\n", b)
}

func send(opts docopt.Opts) {
	message, _ := opts.String("<message>")

	client := connect(context.Background(), opts)
	defer client.Close()

	if !client.Send(parseValue(message)) {
		Err.Printf("Message not sent.\n")
		os.Exit(1)
	}
}

func publish(opts docopt.Opts) {
	event, _ := opts.String("<event>")
	var data any
	if data_, err := opts.String("<data>"); err == nil {
		data = parseValue(data_)
	}

	client := connect(context.Background(), opts)
	defer client.Close()

	if !client.Publish(event, data) {
		Err.Printf("Event not published.\n")
		os.Exit(1)
	}
}

func subscribe(opts docopt.Opts) {
	events, _ := opts["<event>"].([]string)
	messageCount := -1
	if messageCount_, err := opts.Int("--message_count"); err == nil {
		messageCount = messageCount_
	}

	ctx, cancel := interrupted(context.Background())
	defer cancel()

	client := connect(ctx, opts)
	defer client.Close()

	received := make(chan struct{}, 64)
	for _, event := range events {
		client.SubscribeFunc(event, func(data json.RawMessage) {
			printJson(map[string]any{
				"event": event,
				"data":  data,
			})
			received <- struct{}{}
		})
	}

	for i := 0; messageCount < 0 || i < messageCount; i += 1 {
		select {
		case <-ctx.Done():
			return
		case <-received:
		}
	}
}

func call(opts docopt.Opts) {
	name, _ := opts.String("<name>")
	argStrs, _ := opts["<arg>"].([]string)
	timeoutStr, _ := opts.String("--timeout")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		Err.Printf("Invalid timeout (%s).\n", err)
		os.Exit(1)
	}

	args := []any{}
	for _, argStr := range argStrs {
		args = append(args, parseValue(argStr))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := connect(ctx, opts)
	defer client.Close()

	result, err := syncsocket.Await[any](ctx, client.Remote().Call(name, args...))
	if err != nil {
		Err.Printf("Call %s failed (%s).\n", name, err)
		os.Exit(1)
	}
	printJson(result)
}

// serve exposes a few functions to the peer until interrupted
func serve(opts docopt.Opts) {
	ctx, cancel := interrupted(context.Background())
	defer cancel()

	client := connect(ctx, opts)
	defer client.Close()

	functions := client.Functions()
	functions.Register("echo", func(args []json.RawMessage) (any, error) {
		return args, nil
	})
	functions.Register("time", func(args []json.RawMessage) (any, error) {
		return time.Now().UTC().Format(time.RFC3339Nano), nil
	})
	// sleep(millis) replies after the delay
	functions.RegisterAsync("sleep", func(args []json.RawMessage) *syncsocket.Future[any] {
		future := syncsocket.NewFuture[any]()
		var millis int
		if 0 < len(args) {
			if err := json.Unmarshal(args[0], &millis); err != nil {
				future.Reject(err)
				return future
			}
		}
		time.AfterFunc(time.Duration(millis)*time.Millisecond, func() {
			future.Resolve(millis)
		})
		return future
	})

	Err.Printf("Serving %v.\n", functions.Names())
	<-ctx.Done()
}

func watch(opts docopt.Opts) {
	ctx, cancel := interrupted(context.Background())
	defer cancel()

	client := connect(ctx, opts)
	defer client.Close()

	var shared *syncsocket.Shared
	if name, err := opts.String("--global"); err == nil && name != "" {
		shared = client.GlobalShared(name)
	} else if name, err := opts.String("--client"); err == nil && name != "" {
		shared = client.Shared(name)
	} else {
		group, _ := opts.String("--group")
		name, _ := opts.String("--name")
		shared = client.GroupShared(group, name)
	}

	shared.OnChange(func(change syncsocket.Change) {
		printJson(map[string]any{
			"by":     change.By,
			"values": change.Values,
			"state":  shared.Values(),
		})
	})
	<-ctx.Done()
}

func set(opts docopt.Opts) {
	name, _ := opts.String("<name>")
	key, _ := opts.String("<key>")
	value, _ := opts.String("<value>")

	client := connect(context.Background(), opts)
	defer client.Close()

	if err := client.Shared(name).Set(key, parseValue(value)); err != nil {
		Err.Printf("Set failed (%s).\n", err)
		os.Exit(1)
	}
}
