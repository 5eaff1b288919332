package main

import (
	"context"
	"flag"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/plantcare/internal/rpc"
)

func fleetCmd(ctx context.Context, conn *grpc.ClientConn, out outputMode) {
	resp, err := rpc.NewClient(conn).GetFleet(ctx)
	if err != nil {
		fatal("fleet", err)
	}
	if out.json {
		out.printJSON(resp)
		return
	}
	out.table(fleetRows(resp))
}

func fleetRows(fleet *structpb.Struct) [][]string {
	rows := [][]string{{"ID", "NAME", "STATUS", "MOISTURE", "LIGHT", "TEMP", "WATER", "STALE", "PHASE"}}
	for _, v := range field(fleet, "plants").GetListValue().GetValues() {
		p := v.GetStructValue()
		rows = append(rows, []string{
			text(field(p, "id")),
			text(field(p, "name")),
			text(field(p, "status")),
			percent(field(p, "reading", "moisture")),
			percent(field(p, "reading", "light")),
			text(field(p, "reading", "temperature")),
			text(field(p, "reading", "water_detected")),
			text(field(p, "degraded")),
			text(field(p, "automation", "phase")),
		})
	}
	return rows
}

func summaryCmd(ctx context.Context, conn *grpc.ClientConn, out outputMode) {
	resp, err := rpc.NewClient(conn).GetSummary(ctx)
	if err != nil {
		fatal("summary", err)
	}
	if out.json {
		out.printJSON(resp)
		return
	}
	out.table([][]string{
		{"plants", text(field(resp, "total"))},
		{"healthy", text(field(resp, "healthy"))},
		{"not healthy", text(field(resp, "not_healthy"))},
		{"critical", text(field(resp, "critical"))},
		{"degraded", text(field(resp, "degraded"))},
		{"mean moisture", percent(field(resp, "mean_moisture"))},
		{"auto water", text(field(resp, "watering_enabled"))},
		{"in flight", text(field(resp, "commands_in_flight"))},
		{"snapshot", text(field(resp, "version"))},
	})
}

func latestCmd(ctx context.Context, conn *grpc.ClientConn, args []string, out outputMode) {
	if len(args) < 1 {
		fatal("latest", fmt.Errorf("usage: plantcare-cli latest <device_id>"))
	}
	resp, err := rpc.NewClient(conn).GetLatest(ctx, args[0])
	if err != nil {
		fatal("latest", err)
	}
	if out.json {
		out.printJSON(resp)
		return
	}
	out.table([][]string{
		{"device", text(field(resp, "device_id"))},
		{"plant", text(field(resp, "plant_id"))},
		{"moisture", percent(field(resp, "moisture"))},
		{"light", percent(field(resp, "light"))},
		{"temperature", text(field(resp, "temperature"))},
		{"water", text(field(resp, "water_detected"))},
		{"status", text(field(resp, "status"))},
		{"stale", text(field(resp, "stale"))},
		{"timestamp", text(field(resp, "timestamp"))},
	})
}

// waterCmd is shorthand for "control <plant> pump_on".
func waterCmd(ctx context.Context, conn *grpc.ClientConn, args []string, out outputMode) {
	if len(args) < 1 {
		fatal("water", fmt.Errorf("usage: plantcare-cli water <plant>"))
	}
	sendCommand(ctx, conn, args[0], "pump_on", out)
}

func controlCmd(ctx context.Context, conn *grpc.ClientConn, args []string, out outputMode) {
	if len(args) < 2 {
		fatal("control", fmt.Errorf("usage: plantcare-cli control <plant> <pump_on|pump_off|light_on|light_off>"))
	}
	sendCommand(ctx, conn, args[0], args[1], out)
}

func sendCommand(ctx context.Context, conn *grpc.ClientConn, plant, action string, out outputMode) {
	client := rpc.NewClient(conn)
	plantID := resolvePlant(ctx, client, plant)
	resp, err := client.SendCommand(ctx, plantID, action)
	if err != nil {
		fatal("control", err)
	}
	if out.json {
		out.printJSON(resp)
		return
	}
	fmt.Printf("%s: %s -> %s", text(field(resp, "status")), plantID, text(field(resp, "action")))
	if id := field(resp, "command_id").GetStringValue(); id != "" {
		fmt.Printf(" (command %s)", id)
	}
	fmt.Println()
}

func historyCmd(ctx context.Context, conn *grpc.ClientConn, args []string, out outputMode) {
	flags := flag.NewFlagSet("history", flag.ExitOnError)
	limit := flags.Int("limit", 20, "maximum commands to list")
	_ = flags.Parse(args)
	if flags.NArg() < 1 {
		fatal("history", fmt.Errorf("usage: plantcare-cli history [--limit n] <plant>"))
	}

	client := rpc.NewClient(conn)
	plantID := resolvePlant(ctx, client, flags.Arg(0))
	resp, err := client.ListCommands(ctx, plantID, *limit)
	if err != nil {
		fatal("history", err)
	}
	if out.json {
		out.printJSON(resp)
		return
	}
	rows := [][]string{{"ISSUED", "ACTION", "ORIGIN", "OUTCOME", "ACK", "ERROR"}}
	for _, v := range field(resp, "commands").GetListValue().GetValues() {
		c := v.GetStructValue()
		rows = append(rows, []string{
			text(field(c, "issued_at")),
			text(field(c, "action")),
			text(field(c, "origin")),
			text(field(c, "outcome")),
			text(field(c, "ack_status")),
			text(field(c, "error")),
		})
	}
	out.table(rows)
}

func resolvePlant(ctx context.Context, client *rpc.Client, input string) string {
	fleet, err := client.GetFleet(ctx)
	if err != nil {
		fatal("fleet", err)
	}
	id, err := resolveNamedID("plant", input, plantOptions(fleet))
	if err != nil {
		fatal("resolve plant", err)
	}
	return id
}

func plantsUsage() {
	fmt.Println("  fleet")
	fmt.Println("  summary")
	fmt.Println("  latest <device_id>")
	fmt.Println("  water <plant>")
	fmt.Println("  control <plant> <pump_on|pump_off|light_on|light_off>")
	fmt.Println("  history [--limit n] <plant>")
}
