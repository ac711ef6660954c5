package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/wudi/pagekit/project"
	"github.com/wudi/pagekit/store/filestore"
	"github.com/wudi/pagekit/store/httpstore"
)

func openStore(dir, url string) (project.Store, error) {
	switch {
	case dir != "" && url != "":
		return nil, usagef("-dir and -url are mutually exclusive")
	case url != "":
		return httpstore.NewClient(url, &http.Client{Timeout: 5 * time.Minute}), nil
	case dir != "":
		s, err := filestore.Open(dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, usagef("one of -dir or -url is required")
	}
}

func runProject(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("project", flag.ContinueOnError)
	dir := fs.String("dir", "", "Project store directory")
	url := fs.String("url", "", "Base URL of a pagekit serve instance")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if fs.NArg() == 0 {
		return usagef("missing project command (save, list, show, render, delete)")
	}
	store, err := openStore(*dir, *url)
	if err != nil {
		return err
	}
	codec := project.NewCodec(store, project.Config{Loader: e.loader, Logger: e.log})

	sub, rest := fs.Arg(0), fs.Args()[1:]
	switch sub {
	case "save":
		return projectSave(ctx, e, codec, rest)
	case "list":
		list, err := codec.List(ctx)
		if err != nil {
			return err
		}
		return emit(e.stdout, list)
	case "show":
		if len(rest) != 1 {
			return usagef("show takes one project id")
		}
		p, err := codec.Describe(ctx, rest[0])
		if err != nil {
			return err
		}
		return emit(e.stdout, p)
	case "render":
		return projectRender(ctx, e, codec, rest)
	case "delete":
		if len(rest) != 1 {
			return usagef("delete takes one project id")
		}
		return codec.Delete(ctx, rest[0])
	default:
		return usagef("unknown project command %q", sub)
	}
}

func projectSave(ctx context.Context, e *env, codec *project.Codec, args []string) error {
	fs := flag.NewFlagSet("save", flag.ContinueOnError)
	name := fs.String("name", "", "Project name")
	desc := fs.String("description", "", "Project description")
	sel := fs.String("select", "", "Pages to mark selected, numbered across all inputs (default all)")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if *name == "" {
		return usagef("-name is required")
	}
	c, err := loadCatalog(ctx, e, fs.Args())
	if err != nil {
		return err
	}
	defer c.Reset()
	if *sel != "" {
		if err := selectPages(c, *sel); err != nil {
			return err
		}
	}
	p, err := codec.Save(ctx, c, *name, *desc)
	if err != nil {
		return err
	}
	return emit(e.stdout, p.Summary)
}

func projectRender(ctx context.Context, e *env, codec *project.Codec, args []string) error {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	out := fs.String("o", "", "Output path, - for stdout")
	extract := fs.Bool("extract", false, "Write only the selected pages")
	acfg := outputFlags(fs)
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if *out == "" || fs.NArg() != 1 {
		return usagef("render takes -o and one project id")
	}
	c, err := codec.Load(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	defer c.Reset()

	a := newAssembler(e, acfg)
	var data []byte
	if *extract {
		data, err = a.ExtractCatalog(ctx, c)
	} else {
		data, err = a.MergeCatalog(ctx, c)
	}
	if err != nil {
		return fmt.Errorf("project %s: %w", fs.Arg(0), err)
	}
	return writeOutput(*out, data)
}
