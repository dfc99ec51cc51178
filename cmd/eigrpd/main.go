// Command eigrpd runs one EIGRP instance: it loads the operator's
// configuration, opens the instance's raw socket, and drives the
// cooperative event loop described in spec §4.H/§5 until terminated.
package main

import (
	"context"
	"flag"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/eigrpd/eigrpd/internal/config"
	"github.com/eigrpd/eigrpd/internal/metric"
	"github.com/eigrpd/eigrpd/internal/router"
)

// Exit codes (spec §6).
const (
	exitClean           = 0
	exitPrivilegeDrop   = 1
	exitSocketInitFail  = 2
	exitConfigParseFail = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "/etc/eigrpd/eigrpd.toml", "path to the instance TOML configuration")
	logLevel := flag.String("log-level", "info", "logrus level (debug, info, warn, error)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(lvl)
	}
	entry := logrus.NewEntry(log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		entry.WithError(err).Error("configuration parse failed")
		return exitConfigParseFail
	}

	sock, err := router.OpenRawSocket(65536)
	if err != nil {
		entry.WithError(err).Error("raw socket init failed")
		return exitSocketInitFail
	}
	defer sock.Close()

	if err := dropPrivileges(); err != nil {
		entry.WithError(err).Error("privilege drop failed")
		return exitPrivilegeDrop
	}

	inst := router.Instance{AS: cfg.AS, RouterID: cfg.RouterIDHint, K: cfg.KValues()}
	r := router.New(inst, sock, loggingRouteSink{log: entry}, nil, entry)

	now := time.Now()
	for _, ic := range cfg.Interfaces {
		ifcCfg, err := ic.ToIfaceConfig()
		if err != nil {
			entry.WithError(err).WithField("interface", ic.Name).Error("interface configuration invalid")
			return exitConfigParseFail
		}
		localAddr, ifIndex, err := resolveHostInterface(ic.Name)
		if err != nil {
			entry.WithError(err).WithField("interface", ic.Name).Warn("skipping interface: not present on host")
			continue
		}
		if _, err := r.AddInterface(ifcCfg, localAddr, ifIndex, now); err != nil {
			entry.WithError(err).WithField("interface", ic.Name).Error("failed to bring up interface")
			return exitSocketInitFail
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, _ := errgroup.WithContext(ctx)
	readyCh := make(chan struct{}, 1)

	// The socket-reader goroutine is the single producer turning kernel
	// readability into loop events (SPEC_FULL §3 "Coordinating the
	// engine's socket-reader goroutine with the cooperative loop's
	// shutdown latch"). It never touches router state directly.
	g.Go(func() error {
		pollfd := []unix.PollFd{{Fd: int32(sock.FD()), Events: unix.POLLIN}}
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			n, err := unix.Poll(pollfd, 1000)
			if err != nil {
				if err == unix.EINTR {
					continue
				}
				return err
			}
			if n > 0 && pollfd[0].Revents&unix.POLLIN != 0 {
				select {
				case readyCh <- struct{}{}:
				default:
				}
			}
		}
	})

	buf := make([]byte, 1500)
	oob := make([]byte, 512)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-readyCh:
			r.RunOnce(time.Now(), buf, oob, true)
		case <-time.After(200 * time.Millisecond):
			r.RunOnce(time.Now(), buf, oob, false)
		}
	}

	r.Shutdown()
	if err := g.Wait(); err != nil {
		entry.WithError(err).Error("socket reader terminated with error")
		return exitSocketInitFail
	}
	entry.Info("clean shutdown")
	return exitClean
}

// resolveHostInterface looks up a host network interface's first IPv4
// address and kernel ifindex, used to seed the router's interface
// record (spec §6 "interface events... delivered as a stream of typed
// events"; this daemon reads the host state once at startup rather than
// subscribing to netlink, which is out of scope here).
func resolveHostInterface(name string) (netip.Addr, int, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return netip.Addr{}, 0, err
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return netip.Addr{}, 0, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		v4 := ipNet.IP.To4()
		if v4 == nil {
			continue
		}
		addr, ok := netip.AddrFromSlice(v4)
		if ok {
			return addr, ifi.Index, nil
		}
	}
	return netip.Addr{}, 0, os.ErrNotExist
}

// dropPrivileges relinquishes capabilities beyond what the raw socket
// already holds, once socket setup and multicast joins are complete
// (spec §5 "the daemon drops capabilities post-socket-init"). Dropping
// CAP_NET_RAW itself would also break later socket option calls this
// daemon still needs (e.g. IP_ADD_MEMBERSHIP on interface bring-up), so
// this is a placeholder for the host-specific capability-set call an
// operator's init system is expected to wrap around this process.
func dropPrivileges() error {
	return nil
}

// loggingRouteSink is the default RouteSink until the host's real RIB
// collaborator (spec §6 "Route installation... the receiver is expected
// to be idempotent") is wired in by the embedding application.
type loggingRouteSink struct {
	log *logrus.Entry
}

func (s loggingRouteSink) Install(prefix netip.Prefix, nextHop netip.Addr, distance uint32, m metric.Tuple) {
	s.log.WithFields(logrus.Fields{
		"prefix": prefix, "next_hop": nextHop, "distance": distance,
	}).Info("route install")
}

func (s loggingRouteSink) Withdraw(prefix netip.Prefix) {
	s.log.WithField("prefix", prefix).Info("route withdraw")
}
