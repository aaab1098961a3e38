package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bit2swaz/relaymesh/internal/discovery"
	"github.com/bit2swaz/relaymesh/internal/logger"
	"github.com/bit2swaz/relaymesh/internal/mesh"
	"github.com/bit2swaz/relaymesh/internal/store"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	workDir  string
	logLevel string
)

// node is one simulated device.
type node struct {
	name   string
	db     *gorm.DB
	mgr    *mesh.Manager
	source *discovery.FixedSource
	feed   *mesh.ChanObserver
}

var rootCmd = &cobra.Command{
	Use:   "relaysim",
	Short: "Run a scripted three-peer store-and-carry scenario",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := workDir
		if dir == "" {
			tmp, err := os.MkdirTemp("", "relaysim-*")
			if err != nil {
				return err
			}
			defer os.RemoveAll(tmp)
			dir = tmp
		}
		if err := logger.Init(filepath.Join(dir, "relaysim.log"), logLevel); err != nil {
			return err
		}
		return run(cmd.Context(), dir)
	},
}

func run(ctx context.Context, dir string) error {
	network := mesh.NewLoopbackNetwork()

	alice, err := newNode(dir, "alice", network)
	if err != nil {
		return err
	}
	defer alice.close()
	bob, err := newNode(dir, "bob", network)
	if err != nil {
		return err
	}
	defer bob.close()
	carol, err := newNode(dir, "carol", network)
	if err != nil {
		return err
	}
	defer carol.close()
	nodes := []*node{alice, bob, carol}
	for _, n := range nodes {
		for _, other := range nodes {
			if other == n {
				continue
			}
			if err := n.mgr.AddContact(store.Contact{PeerID: other.mgr.Identity(), DisplayName: other.name}); err != nil {
				return err
			}
		}
	}

	// Alice and Carol stand together; Bob is across town.
	alice.source.Set(carol.mgr.Identity(), 80)
	carol.source.Set(alice.mgr.Identity(), 80)

	for _, n := range nodes {
		if err := n.mgr.Start(ctx); err != nil {
			return err
		}
	}

	step("Alice writes to Bob, who is out of range")
	id, err := alice.mgr.Send(ctx, bob.mgr.Identity(), "meet at the north gate", "")
	if err != nil {
		return err
	}
	report(alice, id)
	report(carol, id)

	step("Carol walks away from Alice and towards Bob")
	alice.source.Drop(carol.mgr.Identity())
	carol.source.Drop(alice.mgr.Identity())
	carol.source.Set(bob.mgr.Identity(), 75)
	bob.source.Set(carol.mgr.Identity(), 75)
	for _, n := range []*node{carol, bob} {
		if _, err := n.mgr.ScanOnce(); err != nil {
			return err
		}
	}
	fmt.Printf("  carol sees bob: signal %d, ~%dm\n", carol.mgr.SignalOf(bob.mgr.Identity()), carol.mgr.DistanceOf(bob.mgr.Identity()))

	step("Carol's relay pass reaches Bob")
	if _, err := carol.mgr.RelayOnce(ctx); err != nil {
		return err
	}
	select {
	case d := <-bob.feed.Deliveries:
		fmt.Printf("  bob received %q from %s (%s)\n", d.Message.Content, d.Message.SenderID, d.Route)
	case <-time.After(2 * time.Second):
		fmt.Println("  bob received nothing")
	}
	report(carol, id)
	report(alice, id)
	return nil
}

func newNode(dir, name string, network *mesh.LoopbackNetwork) (*node, error) {
	db, err := store.Init(filepath.Join(dir, name+".db"))
	if err != nil {
		return nil, err
	}
	src := discovery.NewFixedSource()
	mgr, err := mesh.NewManager(db, mesh.Options{
		// Movement is scripted in run.
		ScanInterval:  time.Hour,
		RelayInterval: time.Hour,
		Source:        src,
		Courier:       network,
	})
	if err != nil {
		store.Close(db)
		return nil, err
	}
	network.Join(mgr)
	feed := mesh.NewChanObserver(16)
	mgr.RegisterMessageObserver(feed)
	return &node{name: name, db: db, mgr: mgr, source: src, feed: feed}, nil
}

// close stops the session before releasing its database.
func (n *node) close() {
	n.mgr.Stop()
	store.Close(n.db)
}

func step(title string) {
	fmt.Printf("\n== %s\n", title)
}

func report(n *node, id string) {
	state := "unknown"
	if msg, ok, err := n.mgr.Message(id); err == nil && ok {
		state = string(msg.State)
	}
	carried, _ := n.mgr.CarriedCount()
	fmt.Printf("  %-5s message=%s carrying=%d peers-in-range=%d\n", n.name, state, carried, countInRange(n.mgr.Peers()))
}

func countInRange(peers []store.PeerObservation) int {
	n := 0
	for _, p := range peers {
		if p.InRange {
			n++
		}
	}
	return n
}

func main() {
	rootCmd.Flags().StringVar(&workDir, "dir", "", "Directory for the simulated databases (default: a temp dir)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
