// Command blazer is a thin CLI front end over the container and block
// packages: open files, build a stream, loop.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/killingspark/blazer/container"
	"github.com/killingspark/blazer/fileinfo"
)

var (
	decompress  = pflag.BoolP("decompress", "d", false, "decompress instead of compress")
	force       = pflag.BoolP("force", "f", false, "overwrite an existing output file")
	stdin       = pflag.Bool("stdin", false, "read input from stdin")
	stdout      = pflag.Bool("stdout", false, "write output to stdout")
	password    = pflag.StringP("password", "p", "", "password for encrypt-inner / encrypt-full")
	blobOnly    = pflag.Bool("blobonly", false, "no header, no CRC, no trailer; MaxBlockSize fixed at 16MiB")
	noFilename  = pflag.Bool("nofilename", false, "don't write the file-info frame (original name, size, mode, mtime)")
	encryptFull = pflag.Bool("encryptfull", false, "wrap the whole container in an outer stream cipher")
	mode        = pflag.String("mode", "block", "codec: none|block|stream|streamhigh")
)

func main() {
	pflag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "blazer:", err)
		os.Exit(1)
	}
}

func run() error {
	switch *mode {
	case "block", "none":
	case "stream", "streamhigh":
		return fmt.Errorf("mode %q: not implemented in this build", *mode)
	default:
		return fmt.Errorf("unknown mode %q", *mode)
	}

	args := pflag.Args()
	if *stdin {
		return runStream(os.Stdin, stdoutOrNil(), "")
	}
	if len(args) == 0 {
		return fmt.Errorf("no input file given")
	}
	for _, path := range args {
		if err := runFile(path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

func stdoutOrNil() io.Writer {
	if *stdout {
		return os.Stdout
	}
	return nil
}

func runFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	outPath := outputPath(path)
	if *stdout {
		return runStream(in, os.Stdout, path)
	}

	if !*force {
		if _, err := os.Stat(outPath); err == nil {
			return fmt.Errorf("%s already exists (use --force)", outPath)
		}
	}
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	return runStream(in, out, path)
}

func outputPath(path string) string {
	if *decompress {
		if strings.HasSuffix(path, ".blz") {
			return strings.TrimSuffix(path, ".blz")
		}
		return path + ".unpacked"
	}
	return path + ".blz"
}

func runStream(in io.Reader, out io.Writer, originalName string) error {
	if *decompress {
		return decompressStream(in, out)
	}
	return compressStream(in, out, originalName)
}

func flagsForCLI() container.Flags {
	if *blobOnly {
		return container.NewFlags(15) // 16MiB blocks, no header/CRC/trailer
	}
	f := container.NewFlags(8).WithHeader().WithCRC().WithTrailer()
	if *encryptFull {
		f = f.WithEncryptFull()
	} else if *password != "" {
		f = f.WithEncryptInner()
	}
	if !*noFilename && originalNameWanted() {
		f = f.WithFileInfo()
	}
	return f
}

// originalNameWanted is split out so the file-info flag decision reads as
// one sentence at the call site above.
func originalNameWanted() bool { return !*blobOnly }

func compressStream(in io.Reader, out io.Writer, originalName string) error {
	flags := flagsForCLI()
	cfg := container.WriterConfig{Flags: flags, Password: *password}
	if flags.FileInfo() {
		info := &fileinfo.FileInfo{Name: originalName}
		if fi, err := os.Stat(originalName); err == nil {
			info.Size = fi.Size()
			info.Mode = uint32(fi.Mode())
			info.ModTime = fi.ModTime().Unix()
		}
		cfg.FileInfo = info
	}

	wr, err := container.NewWriter(out, cfg)
	if err != nil {
		return err
	}
	if _, err := io.Copy(wr, in); err != nil {
		return err
	}
	return wr.Close()
}

func decompressStream(in io.Reader, out io.Writer) error {
	flags := container.Flags(0)
	expectHeader := true
	if *blobOnly {
		flags = container.NewFlags(15)
		expectHeader = false
	}
	rd, err := container.NewReader(in, container.ReaderConfig{
		ExpectHeader: expectHeader,
		Flags:        flags,
		Password:     *password,
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(out, rd)
	return err
}
