// locksim runs the full device stack on a host machine: the real bus,
// store, and services, with simulated hardware behind the collaborator
// seams. A companion app connects over the websocket link exactly as it
// would to the device; physical inputs are driven from stdin.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"timelock-go/bus"
	"timelock-go/services/config"
	"timelock-go/services/link"
	"timelock-go/services/power"
	"timelock-go/services/timelock"
	"timelock-go/store"
	"timelock-go/store/memstore"
	"timelock-go/store/sqlitestore"
	"timelock-go/types"
	"timelock-go/x/timex"
)

var (
	storePath string
	listen    string
	device    string
	battery   int
	bankSize  int64
)

var rootCmd = &cobra.Command{
	Use:   "locksim",
	Short: "Run the timelock device stack against simulated hardware",
	Long: `locksim boots the complete firmware core on the host: lock state
machine, event log, OTA controller, power and link services. Hardware
collaborators are simulated; the companion link is served over a
websocket so real companion apps can be exercised end to end.

Interactive input on stdin:
  button        press and release the physical button
  hold          press the button without releasing
  release       release the button
  open / close  move the lid
  emergency     trip the physical emergency unlock
  battery <n>   set the simulated charge percent
  cmd <text>    send a command to the core and print its result`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&storePath, "store", "", "sqlite store path (empty: volatile in-memory store)")
	rootCmd.Flags().StringVar(&listen, "listen", "", "websocket listen address overriding the device config")
	rootCmd.Flags().StringVar(&device, "device", "devkit", "device ID selecting the embedded config")
	rootCmd.Flags().IntVar(&battery, "battery", 90, "initial simulated battery percent")
	rootCmd.Flags().Int64Var(&bankSize, "bank-size", 4<<20, "simulated inactive image bank capacity")
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore()
	if err != nil {
		return err
	}
	if err := seedIdentity(st, device); err != nil {
		return err
	}

	if listen != "" {
		overrideLinkListen()
	}

	b := bus.NewBus(16)
	clock := timex.NewClock()
	gauge := newSimGauge(battery)

	pwr := &power.Service{Gauge: gauge}
	if err := pwr.Start(ctx, b.NewConnection("power")); err != nil {
		return err
	}
	go link.Start(ctx, b.NewConnection("link"))
	config.NewConfigService().Start(
		context.WithValue(ctx, config.CtxDeviceKey, device), b.NewConnection("config"))

	go timelock.Run(ctx, b.NewConnection("timelock"), timelock.Deps{
		Clock:     clock,
		Store:     st,
		Actuator:  &simActuator{},
		Display:   &simDisplay{},
		Restarter: &simRestarter{stop: stop},
		Bank:      newSimBank(bankSize),
	})

	go watchStatus(b.NewConnection("monitor"))
	go readInput(ctx, b.NewConnection("input"), gauge)

	fmt.Println("locksim: running, ^C to stop")
	<-ctx.Done()
	return nil
}

func openStore() (store.Store, error) {
	if storePath == "" {
		fmt.Println("locksim: volatile store, state will not survive restart")
		return memstore.New(), nil
	}
	return sqlitestore.Open(storePath)
}

// seedIdentity writes the device ID into the ident namespace on first
// boot, or after a factory reset wipes it.
func seedIdentity(st store.Store, dev string) error {
	if _, ok, err := st.Get(store.NSIdent, "device_id"); err != nil || ok {
		return err
	}
	return st.Put(store.NSIdent, "device_id", []byte(dev))
}

// overrideLinkListen swaps the embedded config lookup for one that
// rewrites the link section with the --listen address.
func overrideLinkListen() {
	base := config.EmbeddedConfigLookup
	config.EmbeddedConfigLookup = func(dev string) ([]byte, bool) {
		if _, ok := base(dev); !ok {
			return nil, false
		}
		return []byte(fmt.Sprintf(`{
			"timelock": {"tick_ms": 250},
			"power": {"sample_s": 5, "low_below": 10, "recover_at": 15},
			"link": {"transport": {"type": "ws", "listen": %q}}
		}`, listen)), true
	}
}

func watchStatus(conn *bus.Connection) {
	sub := conn.Subscribe(bus.T("timelock", "#"))
	for msg := range sub.Channel() {
		switch {
		case msg.Topic.Equal(timelock.TopicStatus):
			fmt.Println("status:", asText(msg.Payload))
		case msg.Topic.Equal(timelock.TopicResult):
			fmt.Println("result:", asText(msg.Payload))
		}
	}
}

func asText(p any) string {
	switch v := p.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// sendCommand round-trips a textual command through the core and
// prints the result code.
func sendCommand(ctx context.Context, conn *bus.Connection, text string) {
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	reply, err := conn.RequestWait(rctx, conn.NewMessage(timelock.TopicCmd, text, false))
	if err != nil {
		fmt.Println("cmd: no response:", err)
		return
	}
	fmt.Println("cmd:", asText(reply.Payload))
}

// readInput maps stdin lines onto the input topics the core consumes.
func readInput(ctx context.Context, conn *bus.Connection, gauge *simGauge) {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "button":
			conn.Publish(conn.NewMessage(bus.T("input", "button"), types.ButtonValue{Pressed: true}, false))
			conn.Publish(conn.NewMessage(bus.T("input", "button"), types.ButtonValue{Pressed: false}, false))
		case "hold":
			conn.Publish(conn.NewMessage(bus.T("input", "button"), types.ButtonValue{Pressed: true}, false))
		case "release":
			conn.Publish(conn.NewMessage(bus.T("input", "button"), types.ButtonValue{Pressed: false}, false))
		case "open":
			conn.Publish(conn.NewMessage(bus.T("input", "lid"), types.LidValue{Closed: false}, false))
		case "close":
			conn.Publish(conn.NewMessage(bus.T("input", "lid"), types.LidValue{Closed: true}, false))
		case "emergency":
			conn.Publish(conn.NewMessage(bus.T("input", "emergency"), nil, false))
		case "cmd":
			if len(fields) < 2 {
				fmt.Println("usage: cmd <text>")
				continue
			}
			sendCommand(ctx, conn, strings.Join(fields[1:], " "))
		case "battery":
			if len(fields) == 2 {
				var pct int
				if _, err := fmt.Sscanf(fields[1], "%d", &pct); err == nil {
					gauge.Set(pct)
					continue
				}
			}
			fmt.Println("usage: battery <percent>")
		default:
			fmt.Println("unknown input:", fields[0])
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
