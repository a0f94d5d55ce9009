package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"github.com/jakegut/gohpack/hpack"
	"github.com/jakegut/gohpack/http2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	xhttp2 "golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

type options struct {
	tableSize    uint32
	maxFrameSize uint32
	file         string
	metricsAddr  string
}

func main() {
	opts := options{}
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Uint32Var(&opts.tableSize, "table-size", hpack.DefaultTableSize, "dynamic table size ceiling")
	pflag.Uint32Var(&opts.maxFrameSize, "max-frame-size", 16384, "MAX_FRAME_SIZE used when replaying")
	pflag.StringVarP(&opts.file, "file", "f", "", "YAML transcript of header blocks")
	pflag.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address after replay")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] encode|decode|replay\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()
	// glog only reads its flags once the go flag set reports parsed.
	_ = flag.CommandLine.Parse(nil)
	defer glog.Flush()

	if pflag.NArg() != 1 {
		pflag.Usage()
		os.Exit(2)
	}

	var err error
	switch pflag.Arg(0) {
	case "encode":
		err = runEncode(os.Stdout, opts)
	case "decode":
		err = runDecode(os.Stdin, os.Stdout, opts)
	case "replay":
		err = runReplay(os.Stdout, opts)
	default:
		pflag.Usage()
		os.Exit(2)
	}
	if err != nil {
		glog.Errorf("%s: %v", pflag.Arg(0), err)
		glog.Flush()
		os.Exit(1)
	}
}

func runEncode(w io.Writer, opts options) error {
	t, err := loadTranscript(opts.file)
	if err != nil {
		return err
	}

	encoder := hpack.NewEncoder(opts.tableSize)
	for i, b := range t.Blocks {
		if b.TableSize != nil {
			if err := encoder.SetMaxDynamicTableSize(*b.TableSize); err != nil {
				return fmt.Errorf("block %d: %w", i, err)
			}
		}
		fmt.Fprintln(w, hex.EncodeToString(encoder.Encode(b.fields())))
	}
	return nil
}

// runDecode reads one hex-encoded header block per line. Blank lines and
// lines starting with '#' are skipped.
func runDecode(r io.Reader, w io.Writer, opts options) error {
	decoder := hpack.NewDecoder(opts.tableSize)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		block, err := hex.DecodeString(strings.ReplaceAll(line, " ", ""))
		if err != nil {
			return fmt.Errorf("block %d: %w", n, err)
		}
		fields, err := decoder.Decode(block)
		if err != nil {
			return fmt.Errorf("block %d: %w", n, err)
		}

		fmt.Fprintf(w, "# block %d (%d bytes, table %d/%d)\n", n, len(block), decoder.DynamicTableSize(), decoder.MaxDynamicTableSize())
		for _, hf := range fields {
			marker := ""
			if hf.Sensitive {
				marker = " (never indexed)"
			}
			fmt.Fprintf(w, "%s: %s%s\n", hf.Name, hf.Value, marker)
		}
		n++
	}
	return scanner.Err()
}

type rw struct {
	io.Reader
	io.Writer
}

// runReplay sends the transcript through a writer codec into HTTP/2 frames,
// reads them back through a connection and checks both sides agree.
func runReplay(w io.Writer, opts options) error {
	t, err := loadTranscript(opts.file)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := http2.NewMetrics(reg)

	local := http2.NewSettings()
	local.HeaderTableSize = opts.tableSize
	local.MaxFrameSize = opts.maxFrameSize

	writer := http2.NewHeaderCodec(http2.CodecConfig{EncoderTableSize: opts.tableSize, Metrics: metrics})
	err = writer.ApplyPeerSettings([]http2.SettingFrameArgs{
		{Param: http2.SettingsHeaderTableSize, Value: opts.tableSize},
		{Param: http2.SettingsMaxFrameSize, Value: opts.maxFrameSize},
	})
	if err != nil {
		return err
	}

	var wire bytes.Buffer
	var raw int
	for i, b := range t.Blocks {
		if b.TableSize != nil {
			if err := writer.Encoder().SetMaxDynamicTableSize(*b.TableSize); err != nil {
				return fmt.Errorf("block %d: %w", i, err)
			}
		}
		for _, hf := range b.Headers {
			raw += len(hf.Name) + len(hf.Value)
		}
		if err := writer.WriteHeaders(&wire, b.streamID(i), b.fields(), b.EndStream); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
	}
	framed := wire.Len()

	var received []*http2.HeaderBlock
	conn := http2.NewConn(rw{Reader: &wire, Writer: io.Discard}, http2.CodecConfig{Local: local, Metrics: metrics}, func(b *http2.HeaderBlock) error {
		received = append(received, b)
		return nil
	})
	if err := conn.Serve(); err != nil {
		return err
	}

	if len(received) != len(t.Blocks) {
		return fmt.Errorf("sent %d blocks, received %d", len(t.Blocks), len(received))
	}
	for i, b := range t.Blocks {
		if !reflect.DeepEqual(b.fields(), received[i].Fields) {
			return fmt.Errorf("block %d: round trip mismatch", i)
		}
	}
	sent, got := writer.Encoder().DynamicTableEntries(), conn.Codec().Decoder().DynamicTableEntries()
	if !reflect.DeepEqual(sent, got) {
		return errors.New("dynamic tables diverged")
	}

	fmt.Fprintf(w, "blocks: %d\n", len(t.Blocks))
	fmt.Fprintf(w, "header bytes: %d\n", raw)
	fmt.Fprintf(w, "framed bytes: %d\n", framed)
	if raw > 0 {
		fmt.Fprintf(w, "ratio: %.3f\n", float64(framed)/float64(raw))
	}
	fmt.Fprintf(w, "dynamic table: %d entries, %d bytes\n", len(got), conn.Codec().Decoder().DynamicTableSize())

	if opts.metricsAddr == "" {
		return nil
	}
	return serveMetrics(opts.metricsAddr, reg)
}

// serveMetrics exposes reg over cleartext HTTP/2 until interrupted.
func serveMetrics(addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    addr,
		Handler: h2c.NewHandler(mux, &xhttp2.Server{}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	glog.Infof("serving metrics on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
