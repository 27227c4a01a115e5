// Command s3fs is a small command line client for S3-style object
// stores with filesystem semantics: listing, transfer, removal and
// presigned URLs over bucket/key paths.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/pflag"

	"github.com/zarr-developers/s3fs"
	"github.com/zarr-developers/s3fs/internal/cliconfig"
	"github.com/zarr-developers/s3fs/internal/credentials"
	"github.com/zarr-developers/s3fs/internal/logger"
)

const usage = `usage: s3fs [flags] <command> [args]

commands:
  ls <path>              list one directory level
  find <path>            list every file under a prefix
  cat <path>             write object content to stdout
  head <path>            write the first --bytes of an object
  tail <path>            write the last --bytes of an object
  get <path> <file>      download an object to a local file
  put <file> <path>      upload a local file to an object
  cp <src> <dst>         server-side copy
  mv <src> <dst>         copy then remove the source
  merge <dst> <src>...   concatenate objects server-side
  rm <path>              remove a key, or a subtree with --recursive
  mkdir <path>           create a bucket or directory marker
  rmdir <path>           remove a bucket or directory marker
  touch <path>           create an empty key
  du <path>              total size under a prefix
  url <path>             presigned read URL
`

func main() {
	flags := pflag.NewFlagSet("s3fs", pflag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fmt.Fprintln(os.Stderr, "\nflags:")
		flags.PrintDefaults()
	}

	configPath := flags.String("config", "", "path to a YAML config file")
	flags.String("endpoint", "", "object store endpoint URL, for S3-compatible services")
	flags.String("region", "us-east-1", "store region")
	flags.Bool("anon", false, "use unsigned requests")
	flags.Bool("requester_pays", false, "mark requests against requester-pays buckets")
	flags.String("passwd_file", "", "path to an ACCESS_KEY:SECRET_KEY file")
	flags.Int64("block_size", 0, "read-ahead and upload part size in bytes")
	flags.String("log_level", "INFO", "minimum log level (DEBUG, INFO, WARN, ERROR)")
	recursive := flags.BoolP("recursive", "r", false, "rm: remove a whole subtree")
	nbytes := flags.Int64P("bytes", "n", 1024, "head/tail: number of bytes")
	expires := flags.Duration("expires", time.Hour, "url: presigned URL lifetime")

	flags.Parse(os.Args[1:])
	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		os.Exit(2)
	}

	cfg, err := cliconfig.Load(*configPath, flags)
	if err != nil {
		fatal("configuration: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	var creds *credentials.Credentials
	switch {
	case cfg.Anon:
	case cfg.PasswdFile != "":
		creds, err = credentials.FromPasswdFile(cfg.PasswdFile)
		if err != nil {
			fatal("credentials: %v", err)
		}
	default:
		// Missing environment keys are fine: the SDK resolver chain
		// may still find credentials elsewhere.
		creds, _ = credentials.FromEnvironment()
	}

	ctx := context.Background()
	fs, err := s3fs.New(ctx, s3fs.Config{
		Anon:             cfg.Anon,
		Credentials:      creds,
		Endpoint:         cfg.Endpoint,
		Region:           cfg.Region,
		RequesterPays:    cfg.RequesterPays,
		DefaultBlockSize: cfg.BlockSize,
	})
	if err != nil {
		fatal("%v", err)
	}

	if err := run(ctx, fs, args, *recursive, *nbytes, *expires); err != nil {
		fatal("%s: %v", args[0], err)
	}
}

func run(ctx context.Context, fs *s3fs.FileSystem, args []string, recursive bool, nbytes int64, expires time.Duration) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "ls":
		// No path lists the buckets.
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		entries, err := fs.Ls(ctx, path, false)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%-10s %12d  %s\n", e.Type, e.Size, e.Name)
		}
		return nil
	case "find":
		files, err := fs.Walk(ctx, argAt(args, 0))
		if err != nil {
			return err
		}
		sort.Strings(files)
		for _, f := range files {
			fmt.Println(f)
		}
		return nil
	case "cat":
		data, err := fs.Cat(ctx, argAt(args, 0))
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	case "head":
		data, err := fs.Head(ctx, argAt(args, 0), nbytes)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	case "tail":
		data, err := fs.Tail(ctx, argAt(args, 0), nbytes)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	case "get":
		return get(ctx, fs, argAt(args, 0), argAt(args, 1))
	case "put":
		return put(ctx, fs, argAt(args, 0), argAt(args, 1))
	case "cp":
		return fs.Copy(ctx, argAt(args, 0), argAt(args, 1))
	case "mv":
		return fs.Mv(ctx, argAt(args, 0), argAt(args, 1))
	case "merge":
		if len(args) < 2 {
			return fmt.Errorf("merge needs a destination and at least one source")
		}
		return fs.Merge(ctx, args[0], args[1:])
	case "rm":
		return fs.Rm(ctx, argAt(args, 0), recursive)
	case "mkdir":
		return fs.Mkdir(ctx, argAt(args, 0), "")
	case "rmdir":
		return fs.Rmdir(ctx, argAt(args, 0))
	case "touch":
		return fs.Touch(ctx, argAt(args, 0), "")
	case "du":
		total, err := fs.DuTotal(ctx, argAt(args, 0))
		if err != nil {
			return err
		}
		fmt.Println(total)
		return nil
	case "url":
		url, err := fs.URL(ctx, argAt(args, 0), expires)
		if err != nil {
			return err
		}
		fmt.Println(url)
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func get(ctx context.Context, fs *s3fs.FileSystem, path, local string) error {
	src, err := fs.Open(ctx, path, "rb", nil)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(local)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func put(ctx context.Context, fs *s3fs.FileSystem, local, path string) error {
	src, err := os.Open(local)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := fs.Open(ctx, path, "wb", nil)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return dst.Close()
}

func argAt(args []string, i int) string {
	if i >= len(args) {
		fatal("missing argument")
	}
	return args[i]
}

func fatal(format string, v ...any) {
	fmt.Fprintf(os.Stderr, "s3fs: "+format+"\n", v...)
	os.Exit(1)
}
