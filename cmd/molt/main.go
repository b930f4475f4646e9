// Molt CLI - watches class image files and hot-swaps them into a
// running molt runtime.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/molt/classfile"
	"github.com/chazu/molt/dist"
	"github.com/chazu/molt/events"
	"github.com/chazu/molt/hotswap"
	"github.com/chazu/molt/journal"
	"github.com/chazu/molt/manifest"
	"github.com/chazu/molt/runtime"
	"github.com/chazu/molt/watcher"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	projectDir := flag.String("C", ".", "Project directory (where molt.toml lives)")
	journalClass := flag.String("class", "", "Filter journal output to one class")
	journalLimit := flag.Int("n", 20, "Number of journal events to show")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: molt [options] <command> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run                 Watch configured directories and hot-swap class images\n")
		fmt.Fprintf(os.Stderr, "  validate <file>...  Check class image files; with two files, check\n")
		fmt.Fprintf(os.Stderr, "                      whether the second could hot-swap the first\n")
		fmt.Fprintf(os.Stderr, "  journal             Show the hot-swap event history\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  molt run                      # Watch src/ for .mcls writes\n")
		fmt.Fprintf(os.Stderr, "  molt -C ./app run             # Use app/molt.toml\n")
		fmt.Fprintf(os.Stderr, "  molt validate build/*.mcls    # Check images before deploying\n")
		fmt.Fprintf(os.Stderr, "  molt validate old.mcls new.mcls  # Would new hot-swap old?\n")
		fmt.Fprintf(os.Stderr, "  molt journal -class Greeter   # One class's swap history\n")
	}
	flag.Parse()

	verbosity := 0
	if *verbose {
		verbosity = 1
	}
	commonlog.Configure(verbosity, nil)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "run":
		if err := runCommand(*projectDir); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "validate":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "Usage: molt validate <file>...\n")
			os.Exit(2)
		}
		if !validateCommand(args[1:]) {
			os.Exit(1)
		}
	case "journal":
		if err := journalCommand(*projectDir, *journalClass, *journalLimit); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

func loadManifest(projectDir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(projectDir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("no molt.toml found in or above %s", projectDir)
	}
	return m, nil
}

// runCommand is the live loop: seed the runtime from the watch
// directories, then hot-swap every settled image write until
// interrupted.
func runCommand(projectDir string) error {
	m, err := loadManifest(projectDir)
	if err != nil {
		return err
	}

	var emitters events.Fanout
	if m.Journal.Enabled {
		j, err := journal.Open(m.JournalPath())
		if err != nil {
			return err
		}
		defer j.Close()
		emitters = append(emitters, j)
	}
	if m.Relay.Enabled {
		relay, err := dist.Listen(m.Relay.Addr)
		if err != nil {
			return err
		}
		defer relay.Close()
		fmt.Printf("Relay listening on %s\n", relay.Addr())
		emitters = append(emitters, relay)
	}

	rt := runtime.NewRuntime()
	loaded, err := seedRuntime(rt, m.WatchDirPaths(), m.Watch.Extension)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d classes from %v\n", loaded, m.Watch.Dirs)

	coord := hotswap.NewDefaultCoordinator(rt, emitters)
	configureTracking(coord, m, rt.Classes())

	w, err := watcher.New(m.WatchDirPaths(), watcher.Options{
		Extension: m.Watch.Extension,
		Settle:    m.Settle(),
	})
	if err != nil {
		return err
	}
	defer w.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	fmt.Printf("Watching for %s writes (Ctrl-C to stop)\n", m.Watch.Extension)
	for {
		select {
		case <-interrupt:
			fmt.Println("\nShutting down")
			return nil
		case change, ok := <-w.Changes():
			if !ok {
				return nil
			}
			handleChange(rt, coord, m, change)
		}
	}
}

// configureTracking enables instance tracking per the manifest's track
// list. Explicit entries are enabled even before their class loads; a
// "*" entry additionally tracks every loaded class. Classes that load
// later are picked up by handleChange.
func configureTracking(coord *hotswap.Coordinator, m *manifest.Manifest, loaded []string) {
	for _, class := range m.Track.Classes {
		if class != "*" {
			coord.Tracker().EnableTracking(class)
		}
	}
	for _, name := range loaded {
		if m.Tracked(name) {
			coord.Tracker().EnableTracking(name)
		}
	}
}

// handleChange runs one settled write through the pipeline. Files for
// classes the runtime has never seen are loaded instead of swapped.
func handleChange(rt *runtime.Runtime, coord *hotswap.Coordinator, m *manifest.Manifest, change watcher.Change) {
	if rt.Lookup(change.ClassName) == nil {
		if _, err := rt.Load(change.Payload); err != nil {
			fmt.Fprintf(os.Stderr, "%s: load failed: %v\n", change.ClassName, err)
			return
		}
		if m.Tracked(change.ClassName) {
			coord.Tracker().EnableTracking(change.ClassName)
		}
		fmt.Printf("%s: loaded\n", change.ClassName)
		return
	}

	result := coord.Process(change.ClassName, change.Payload, change.Path, change.At)
	switch result.Phase {
	case hotswap.PhaseCompleted:
		fmt.Printf("%s: swapped (%s)\n", change.ClassName, result.Update.Detail)
	case hotswap.PhaseRejected:
		fmt.Fprintf(os.Stderr, "%s: rejected: %s\n", change.ClassName, result.Validation.Reason)
	case hotswap.PhaseFailed:
		if result.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: failed: %v\n", change.ClassName, result.Err)
		} else {
			fmt.Fprintf(os.Stderr, "%s: failed: %s\n", change.ClassName, result.Redefinition.Reason)
		}
	}
}

// seedRuntime loads every existing class image under the watch dirs.
// Superclasses must load before subclasses; retry until a pass makes no
// progress so declaration order on disk doesn't matter.
func seedRuntime(rt *runtime.Runtime, dirs []string, ext string) (int, error) {
	var paths []string
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+ext))
		if err != nil {
			return 0, err
		}
		paths = append(paths, matches...)
	}

	loaded := 0
	pending := paths
	for len(pending) > 0 {
		var next []string
		var lastErr error
		for _, path := range pending {
			data, err := os.ReadFile(path)
			if err != nil {
				return loaded, fmt.Errorf("reading %s: %w", path, err)
			}
			if _, err := rt.Load(data); err != nil {
				next = append(next, path)
				lastErr = fmt.Errorf("loading %s: %w", path, err)
				continue
			}
			loaded++
		}
		if len(next) == len(pending) {
			return loaded, lastErr
		}
		pending = next
	}
	return loaded, nil
}

// validateCommand parses each image and reports malformed ones. Given
// exactly two images it also runs the hot-swap compatibility checks,
// treating the first as the live class and the second as the proposed
// change.
func validateCommand(paths []string) bool {
	ok := true
	images := make(map[string][]byte, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			ok = false
			continue
		}
		cf, err := classfile.Parse(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			ok = false
			continue
		}
		images[path] = data
		fmt.Printf("%s: OK (%s, %d fields, %d methods)\n",
			path, cf.Name, len(cf.Fields), len(cf.Methods))
	}

	if len(paths) == 2 && ok {
		return validatePair(images[paths[0]], images[paths[1]])
	}
	return ok
}

// validatePair checks whether newImage could hot-swap a class currently
// defined by oldImage.
func validatePair(oldImage, newImage []byte) bool {
	rt := runtime.NewRuntime()
	c, err := rt.Load(oldImage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot stage old image: %v\n", err)
		return false
	}

	outcome, err := hotswap.NewBytecodeValidator().Validate(hotswap.ProposedChange{
		Identity: hotswap.ClassIdentity{Name: c.Name(), Handle: c},
		NewImage: newImage,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "validation error: %v\n", err)
		return false
	}
	if !outcome.Validated() {
		fmt.Fprintf(os.Stderr, "incompatible change (%s): %s\n", outcome.Rule, outcome.Reason)
		return false
	}
	fmt.Printf("%s: compatible hot swap\n", c.Name())
	return true
}

func journalCommand(projectDir, class string, limit int) error {
	m, err := loadManifest(projectDir)
	if err != nil {
		return err
	}

	j, err := journal.Open(m.JournalPath())
	if err != nil {
		return err
	}
	defer j.Close()

	var history []events.Event
	if class != "" {
		history, err = j.ForClass(class, limit)
	} else {
		history, err = j.Recent(limit)
	}
	if err != nil {
		return err
	}

	if len(history) == 0 {
		fmt.Println("No events recorded")
		return nil
	}
	for _, e := range history {
		line := fmt.Sprintf("%s  %-24s %s", e.At.Format("2006-01-02 15:04:05.000"), e.Type, e.Class)
		if reason := e.Attrs["reason"]; reason != "" {
			line += "  " + reason
		} else if detail := e.Attrs["detail"]; detail != "" {
			line += "  " + detail
		}
		fmt.Println(line)
	}
	return nil
}
