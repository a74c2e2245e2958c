// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/hearth/auth"
	"github.com/bureau-foundation/hearth/event"
	"github.com/bureau-foundation/hearth/filter"
	"github.com/bureau-foundation/hearth/lib/clock"
	"github.com/bureau-foundation/hearth/lib/config"
	"github.com/bureau-foundation/hearth/lib/ref"
	"github.com/bureau-foundation/hearth/pagination"
	"github.com/bureau-foundation/hearth/purge"
	"github.com/bureau-foundation/hearth/search"
	"github.com/bureau-foundation/hearth/store"
	"github.com/bureau-foundation/hearth/token"
)

// app holds the opened store and the engines the subcommands share.
type app struct {
	cfg        *config.Config
	store      *store.Store
	authorizer *auth.Engine
	pages      *pagination.Engine
	purges     *purge.Manager
	searcher   *search.Engine
	requester  ref.UserID
}

func openApp(configPath, requester string) (*app, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	serverName, err := ref.ParseServerName(cfg.Server.Name)
	if err != nil {
		return nil, fmt.Errorf("config server.name: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	authorizer := auth.NewEngine(logger)

	eventStore, err := store.Open(store.Config{
		Path:                  cfg.Database.Path,
		PoolSize:              cfg.Database.PoolSize,
		ServerName:            serverName,
		Authorizer:            authorizer,
		Clock:                 clock.Real(),
		DefaultRoomVisibility: cfg.Rooms.DefaultVisibility,
		Logger:                logger,
	})
	if err != nil {
		return nil, err
	}

	purgeManager, err := purge.NewManager(purge.Config{
		Store:     eventStore,
		Clock:     clock.Real(),
		BatchSize: cfg.Purge.BatchSize,
		Logger:    logger,
	})
	if err != nil {
		eventStore.Close()
		return nil, err
	}

	application := &app{
		cfg:        cfg,
		store:      eventStore,
		authorizer: authorizer,
		pages:      pagination.NewEngine(eventStore, authorizer, logger),
		purges:     purgeManager,
		searcher:   search.NewEngine(eventStore, authorizer, logger),
	}
	if requester != "" {
		application.requester, err = ref.ParseUserID(requester)
		if err != nil {
			eventStore.Close()
			return nil, fmt.Errorf("--as: %w", err)
		}
	}
	return application, nil
}

func (a *app) Close() {
	a.purges.Close()
	a.store.Close()
}

func (a *app) needRequester() error {
	if a.requester.IsZero() {
		return fmt.Errorf("--as USER is required for this command")
	}
	return nil
}

// parseFilterFlag compiles a --filter value. The value is JSONC, so
// hand-typed filters may carry comments and trailing commas.
func parseFilterFlag(raw string) (*filter.EventFilter, int, error) {
	if raw == "" {
		return filter.MatchAll(), 0, nil
	}
	spec, err := filter.ParseSpec(jsonc.ToJSON([]byte(raw)))
	if err != nil {
		return nil, 0, err
	}
	return filter.Compile(spec), spec.EffectiveLimit(), nil
}

func (a *app) runRooms(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("rooms", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	// The public directory is open by default; a deployment can
	// require an identity for it.
	if a.cfg.Rooms.DirectoryRequiresAuth {
		if err := a.needRequester(); err != nil {
			return err
		}
	}
	rooms, err := a.store.PublicRooms(ctx)
	if err != nil {
		return err
	}
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ROOM\tJOINED\tNAME\tTOPIC")
	for _, room := range rooms {
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\n", room.RoomID, room.JoinedMembers, room.Name, room.Topic)
	}
	return writer.Flush()
}

func (a *app) runEvents(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("events", pflag.ContinueOnError)
	fromFlag := flagSet.String("from", "", "pagination token to continue from")
	dirFlag := flagSet.String("dir", "b", `direction: "b" (backwards) or "f" (forwards)`)
	limitFlag := flagSet.Int("limit", 0, "events per page (default from filter)")
	filterFlag := flagSet.String("filter", "", "event filter (JSONC)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if err := a.needRequester(); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: hearth-admin events <room>")
	}
	roomID, err := ref.ParseRoomID(flagSet.Arg(0))
	if err != nil {
		return err
	}
	direction, err := pagination.ParseDirection(*dirFlag)
	if err != nil {
		return err
	}
	eventFilter, filterLimit, err := parseFilterFlag(*filterFlag)
	if err != nil {
		return err
	}
	limit := *limitFlag
	if limit <= 0 {
		limit = filterLimit
	}

	var from token.Token
	if *fromFlag != "" {
		from, err = token.Decode(*fromFlag)
		if err != nil {
			return err
		}
	}

	page, err := a.pages.Paginate(ctx, pagination.Request{
		RoomID:    roomID,
		Requester: a.requester,
		Direction: direction,
		From:      from,
		Limit:     limit,
		Filter:    eventFilter,
	})
	if err != nil {
		return err
	}

	for _, evt := range page.Chunk {
		printEvent(evt)
	}
	fmt.Printf("start=%s end=%s\n", page.Start.Encode(), page.End.Encode())
	return nil
}

func (a *app) runContext(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("context", pflag.ContinueOnError)
	limitFlag := flagSet.Int("limit", 10, "surrounding events to fetch")
	filterFlag := flagSet.String("filter", "", "event filter (JSONC)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if err := a.needRequester(); err != nil {
		return err
	}
	if flagSet.NArg() != 2 {
		return fmt.Errorf("usage: hearth-admin context <room> <event>")
	}
	roomID, err := ref.ParseRoomID(flagSet.Arg(0))
	if err != nil {
		return err
	}
	eventID, err := ref.ParseEventID(flagSet.Arg(1))
	if err != nil {
		return err
	}
	eventFilter, _, err := parseFilterFlag(*filterFlag)
	if err != nil {
		return err
	}

	neighborhood, err := a.pages.Context(ctx, roomID, eventID, a.requester, *limitFlag, eventFilter)
	if err != nil {
		return err
	}

	for i := len(neighborhood.EventsBefore) - 1; i >= 0; i-- {
		printEvent(neighborhood.EventsBefore[i])
	}
	fmt.Print("> ")
	printEvent(neighborhood.Event)
	for _, evt := range neighborhood.EventsAfter {
		printEvent(evt)
	}
	fmt.Printf("start=%s end=%s\n", neighborhood.Start.Encode(), neighborhood.End.Encode())
	return nil
}

func (a *app) runMembers(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("members", pflag.ContinueOnError)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if err := a.needRequester(); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: hearth-admin members <room>")
	}
	roomID, err := ref.ParseRoomID(flagSet.Arg(0))
	if err != nil {
		return err
	}

	snapshot, err := a.store.Snapshot(ctx, roomID)
	if err != nil {
		return err
	}
	if err := a.authorizer.CheckCanReadMembers(snapshot, a.requester); err != nil {
		return err
	}
	members, err := a.store.Members(ctx, roomID)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "USER\tMEMBERSHIP\tDISPLAYNAME")
	for _, member := range members {
		target, err := member.MembershipTarget()
		if err != nil {
			continue
		}
		membership, err := member.RequestedMembership()
		if err != nil {
			continue
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\n", target, membership, member.ContentString(event.FieldDisplayname))
	}
	return writer.Flush()
}

func (a *app) runPurge(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("purge", pflag.ContinueOnError)
	upToFlag := flagSet.String("up-to", "", "topological token; history strictly before it is purged")
	deleteLocal := flagSet.Bool("delete-local", false, "also delete locally authored events")
	pollFlag := flagSet.Duration("poll", 200*time.Millisecond, "status poll interval")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 || *upToFlag == "" {
		return fmt.Errorf("usage: hearth-admin purge <room> --up-to TOKEN")
	}
	roomID, err := ref.ParseRoomID(flagSet.Arg(0))
	if err != nil {
		return err
	}
	upTo, err := token.DecodeTopological(*upToFlag)
	if err != nil {
		return err
	}

	purgeID, err := a.purges.StartPurge(ctx, roomID, upTo, *deleteLocal)
	if err != nil {
		return err
	}
	fmt.Printf("purge %s started\n", purgeID)

	for {
		status, err := a.purges.Status(purgeID)
		if err != nil {
			return err
		}
		if status.State != purge.StateActive {
			fmt.Printf("purge %s: %s, %d events deleted\n", purgeID, status.State, status.EventsDeleted)
			if status.State == purge.StateFailed {
				return fmt.Errorf("purge failed: %s", status.Error)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(*pollFlag):
		}
	}
}

func (a *app) runSearch(ctx context.Context, args []string) error {
	flagSet := pflag.NewFlagSet("search", pflag.ContinueOnError)
	limitFlag := flagSet.Int("limit", 10, "maximum results")
	filterFlag := flagSet.String("filter", "", "event filter (JSONC)")
	roomFlag := flagSet.StringSlice("room", nil, "restrict to these rooms")
	profileFlag := flagSet.Bool("profiles", false, "include sender profiles")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if err := a.needRequester(); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: hearth-admin search <term>")
	}
	eventFilter, _, err := parseFilterFlag(*filterFlag)
	if err != nil {
		return err
	}

	var roomIDs []ref.RoomID
	for _, raw := range *roomFlag {
		roomID, err := ref.ParseRoomID(raw)
		if err != nil {
			return err
		}
		roomIDs = append(roomIDs, roomID)
	}

	results, err := a.searcher.Search(ctx, search.Request{
		Requester:      a.requester,
		Term:           flagSet.Arg(0),
		Filter:         eventFilter,
		RoomIDs:        roomIDs,
		IncludeProfile: *profileFlag,
		Limit:          *limitFlag,
	})
	if err != nil {
		return err
	}

	for _, result := range results {
		fmt.Printf("%.3f ", result.Score)
		printEvent(result.Event)
		if result.SenderProfile != nil {
			fmt.Printf("      sender: %s (%s)\n", result.SenderProfile.Displayname, result.Event.Sender)
		}
	}
	return nil
}

func printEvent(evt *event.Event) {
	body := evt.ContentString(event.FieldBody)
	if evt.IsState() {
		fmt.Printf("%s [%s/%s] %s d=%d s=%d\n",
			evt.ID, evt.Type, *evt.StateKey, evt.Sender, evt.Depth, evt.StreamOrdering)
		return
	}
	fmt.Printf("%s [%s] %s d=%d s=%d %s\n",
		evt.ID, evt.Type, evt.Sender, evt.Depth, evt.StreamOrdering, body)
}
