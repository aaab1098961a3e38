package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bit2swaz/relaymesh/internal/store"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Print this device's peer id",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, mgr, err := openSession()
		if err != nil {
			return err
		}
		defer store.Close(db)
		fmt.Println(mgr.Identity())
		return nil
	},
}

var contactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Manage contacts",
}

var contactName, contactUsername, contactAddr string

var contactAddCmd = &cobra.Command{
	Use:   "add <peer-id>",
	Short: "Add or update a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, mgr, err := openSession()
		if err != nil {
			return err
		}
		defer store.Close(db)

		peerID := strings.TrimSpace(args[0])
		if peerID == mgr.Identity() {
			return fmt.Errorf("cannot add yourself as a contact")
		}
		return mgr.AddContact(store.Contact{
			PeerID:      peerID,
			DisplayName: contactName,
			Username:    contactUsername,
			Addr:        contactAddr,
		})
	},
}

var contactListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, mgr, err := openSession()
		if err != nil {
			return err
		}
		defer store.Close(db)

		contacts, err := mgr.Contacts()
		if err != nil {
			return err
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("PEER", "NAME", "USERNAME", "ADDR", "LAST SEEN")
		for _, c := range contacts {
			t.Row(c.PeerID, c.DisplayName, c.Username, c.Addr, formatSeen(c.LastSeen))
		}
		fmt.Println(t.Render())
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <peer-id> <message>",
	Short: "Queue a message; it is relayed once a running session meets a path",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, mgr, err := openSession()
		if err != nil {
			return err
		}
		defer store.Close(db)

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		id, err := mgr.Send(ctx, args[0], strings.Join(args[1:], " "), "")
		if err != nil {
			return err
		}
		fmt.Println("queued", id)
		return nil
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Show the peers seen by the last session",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Init(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close(db)

		obs, err := store.LoadPeerTable(db)
		if err != nil {
			return err
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("PEER", "NAME", "SIGNAL", "DIST", "RANGE", "LAST SEEN")
		for _, p := range obs {
			rangeLabel := "out"
			if p.InRange {
				rangeLabel = "in"
			}
			t.Row(p.PeerID, p.DisplayName, fmt.Sprint(p.SignalQuality), fmt.Sprintf("~%dm", p.EstimatedDistance), rangeLabel, formatSeen(p.LastSeen))
		}
		fmt.Println(t.Render())
		return nil
	},
}

func formatSeen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func init() {
	contactAddCmd.Flags().StringVar(&contactName, "name", "", "Display name")
	contactAddCmd.Flags().StringVar(&contactUsername, "username", "", "Username")
	contactAddCmd.Flags().StringVar(&contactAddr, "addr", "", "Link address (host:port)")
	contactCmd.AddCommand(contactAddCmd, contactListCmd)
	rootCmd.AddCommand(idCmd, contactCmd, sendCmd, peersCmd)
}
