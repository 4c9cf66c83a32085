package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"fenrir/internal/common"
	fenrirNet "fenrir/internal/net"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	action := flag.String("action", "place", "Action to perform: ['place', 'cancel', 'reduce', 'lookup', 'depth', 'heartbeat']")

	// Order Parameters
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	price := flag.Int64("price", 100, "Limit price in ticks")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")

	// Cancel / Reduce / Lookup Parameters
	id := flag.String("id", "", "Id of the order to cancel, reduce or look up")
	amount := flag.Uint64("amount", 0, "Amount to reduce the order by")

	listen := flag.Duration("listen", 0, "Keep listening for execution reports this long after the replies")

	flag.Parse()

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatal().Err(err).Str("server", *serverAddr).Msg("failed to connect to server")
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)

	// Build the requests.
	var messages []fenrirNet.Message
	switch strings.ToLower(*action) {
	case "place":
		side, err := common.ParseSide(strings.ToLower(*sideStr))
		if err != nil {
			log.Fatal().Err(err).Str("side", *sideStr).Msg("bad side")
		}
		for _, q := range parseQuantities(*qtyStr) {
			messages = append(messages, fenrirNet.NewOrderMessage{Side: side, Price: *price, Quantity: q})
		}
	case "cancel":
		requireID(*id)
		messages = append(messages, fenrirNet.CancelOrderMessage{OrderID: *id})
	case "reduce":
		requireID(*id)
		messages = append(messages, fenrirNet.ReduceOrderMessage{OrderID: *id, Amount: *amount})
	case "lookup":
		requireID(*id)
		messages = append(messages, fenrirNet.LookupOrderMessage{OrderID: *id})
	case "depth":
		messages = append(messages, fenrirNet.DepthRequestMessage{})
	case "heartbeat":
		messages = append(messages, fenrirNet.HeartbeatMessage{})
	default:
		log.Fatal().Str("action", *action).Msg("unknown action")
	}

	// Every request gets exactly one reply, executions may arrive in between.
	for _, m := range messages {
		if err := send(conn, m); err != nil {
			log.Fatal().Err(err).Msg("failed to send request")
		}
		for {
			report, err := receive(conn, reader, 5*time.Second)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to read reply")
			}
			printReport(report)
			if _, ok := report.(fenrirNet.Execution); !ok {
				break
			}
		}
	}

	if *listen <= 0 {
		return
	}
	fmt.Printf("\nListening for reports for %v...\n", *listen)
	deadline := time.Now().Add(*listen)
	for {
		report, err := receive(conn, reader, time.Until(deadline))
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		if err != nil {
			log.Fatal().Err(err).Msg("connection lost")
		}
		printReport(report)
	}
}

func requireID(id string) {
	if id == "" {
		log.Fatal().Msg("-id is required for this action")
	}
}

// parseQuantities splits a comma-separated string into a slice of uint64
func parseQuantities(input string) []uint64 {
	var result []uint64
	for _, p := range strings.Split(input, ",") {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseUint(p, 10, 64); err == nil {
			result = append(result, val)
		} else {
			log.Warn().Str("qty", p).Msg("invalid quantity, skipping")
		}
	}
	return result
}

func send(conn net.Conn, m fenrirNet.Message) error {
	payload, err := fenrirNet.EncodeMessage(m)
	if err != nil {
		return err
	}
	return fenrirNet.WriteFrame(conn, payload)
}

func receive(conn net.Conn, reader *bufio.Reader, timeout time.Duration) (fenrirNet.Report, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	payload, err := fenrirNet.ReadFrame(reader)
	if err != nil {
		return nil, err
	}
	return fenrirNet.ParseReport(payload)
}

func printReport(report fenrirNet.Report) {
	switch r := report.(type) {
	case fenrirNet.Ack:
		if r.OrderID == "" {
			fmt.Println("[ACK]")
		} else {
			fmt.Printf("[ACK] Order: %s\n", r.OrderID)
		}
	case fenrirNet.Execution:
		fmt.Printf("[EXECUTION] %s %d @ %d | Order: %s | vs: %s | At: %s\n",
			strings.ToUpper(r.Side.String()), r.Quantity, r.Price, r.OrderID, r.Counterparty,
			time.Unix(0, int64(r.Timestamp)).Format(time.RFC3339Nano))
	case fenrirNet.Rejection:
		fmt.Printf("[SERVER ERROR] %s\n", r.Err)
	case fenrirNet.OrderInfo:
		fmt.Printf("[ORDER] %s %s %d/%d @ %d\n",
			r.OrderID, strings.ToUpper(r.Side.String()), r.Quantity, r.TotalQuantity, r.Price)
	case fenrirNet.DepthSnapshot:
		if r.Truncated {
			fmt.Printf("[DEPTH] (first %d levels per side)\n", fenrirNet.MaxDepthLevels)
		} else {
			fmt.Println("[DEPTH]")
		}
		for i := len(r.Asks) - 1; i >= 0; i-- {
			fmt.Printf("  ASK %10d  %d\n", r.Asks[i].Price, r.Asks[i].Volume)
		}
		for _, level := range r.Bids {
			fmt.Printf("  BID %10d  %d\n", level.Price, level.Volume)
		}
	}
}
