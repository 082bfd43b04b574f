package cli

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/acidtib/jiji/internal/discovery"
	"github.com/acidtib/jiji/internal/dnswire"
	"github.com/acidtib/jiji/internal/output"
)

var (
	dnsListen            string
	dnsCorrosionAPI      string
	dnsServiceDomain     string
	dnsTTL               int
	dnsReconnectInterval time.Duration
)

var dnsCmd = &cobra.Command{
	Use:   "dns",
	Short: "Run the service-discovery DNS server in the foreground",
	Long: `dns subscribes to the state store's container view and serves DNS
queries for the configured service domain out of the resulting index.

It runs until interrupted (Ctrl-C). For production use, run the dedicated
jiji-discover binary instead, which reads the same settings from
JIJI_LISTEN_ADDR, JIJI_CORROSION_API, JIJI_SERVICE_DOMAIN, JIJI_DNS_TTL, and
JIJI_RECONNECT_INTERVAL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDNS()
	},
}

var dnsQueryType string

var dnsQueryCmd = &cobra.Command{
	Use:   "query <server:port> <hostname>",
	Short: "Send one DNS query against a running discovery server and print the answer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDNSQuery(args[0], args[1])
	},
}

func init() {
	opts := discovery.DefaultOptions()
	dnsCmd.Flags().StringVar(&dnsListen, "listen", "", "comma-separated host:port UDP listeners (required)")
	dnsCmd.Flags().StringVar(&dnsCorrosionAPI, "corrosion-api", opts.CorrosionAPI, "state store HTTP API base URL")
	dnsCmd.Flags().StringVar(&dnsServiceDomain, "service-domain", opts.ServiceDomain, "domain suffix routed to the local index")
	dnsCmd.Flags().IntVar(&dnsTTL, "ttl", int(opts.DNSTTL), "answer TTL in seconds for index-served records")
	dnsCmd.Flags().DurationVar(&dnsReconnectInterval, "reconnect-interval", opts.ReconnectInterval, "base reconnect backoff interval")
	rootCmd.AddCommand(dnsCmd)

	dnsQueryCmd.Flags().StringVar(&dnsQueryType, "type", "A", "question type: A or AAAA")
	dnsCmd.AddCommand(dnsQueryCmd)
}

func runDNS() error {
	opts := discovery.DefaultOptions()
	for _, addr := range strings.Split(dnsListen, ",") {
		addr = strings.TrimSpace(addr)
		if addr != "" {
			opts.ListenAddrs = append(opts.ListenAddrs, addr)
		}
	}
	opts.CorrosionAPI = dnsCorrosionAPI
	opts.ServiceDomain = dnsServiceDomain
	opts.DNSTTL = uint32(dnsTTL)
	opts.ReconnectInterval = dnsReconnectInterval

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return discovery.Run(ctx, opts, output.DefaultLogger)
}

func runDNSQuery(server, hostname string) error {
	qtype := uint16(dnswire.TypeA)
	if strings.EqualFold(dnsQueryType, "AAAA") {
		qtype = dnswire.TypeAAAA
	}

	packet, err := dnswire.BuildQuery(1, hostname, qtype)
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}

	conn, err := net.Dial("udp", server)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", server, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("sending query: %w", err)
	}

	buf := make([]byte, 512)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	resp, err := dnswire.ParseQuery(buf[:n])
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	rcodeName := map[uint8]string{
		dnswire.RcodeNoError:  "NOERROR",
		dnswire.RcodeFormErr:  "FORMERR",
		dnswire.RcodeServFail: "SERVFAIL",
		dnswire.RcodeNXDomain: "NXDOMAIN",
	}[resp.Header.RCODE]

	fmt.Printf("status: %s, answers: %d\n", rcodeName, resp.Header.ANCount)
	for _, q := range resp.Questions {
		fmt.Printf("question: %s (type %d)\n", q.Name, q.Type)
	}
	return nil
}
