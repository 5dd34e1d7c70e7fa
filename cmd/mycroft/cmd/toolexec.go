package cmd

import (
	"fmt"
	"go/importer"
	"go/token"
	"go/types"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/amirkhaki/mycroft/pkg/instrument"
)

// runtimePkgPath is the package the instrumented code calls into. It is
// injected into the compile and link importcfgs of the program under
// test.
const runtimePkgPath = "github.com/amirkhaki/mycroft/pkg/runtime"

// toolexecCmd represents the toolexec command
var toolexecCmd = &cobra.Command{
	Use:                "toolexec",
	Short:              "go build -toolexec 'mycroft toolexec'",
	Long:               ``,
	DisableFlagParsing: true,
	Args:               cobra.MinimumNArgs(1),
	Run:                handleToolExec,
}

func init() {
	rootCmd.AddCommand(toolexecCmd)
}

// runTool executes the intercepted go tool, forwarding its exit code.
func runTool(tool string, args []string) {
	cmd := exec.Command(tool, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		os.Exit(1)
	}
}

// handleToolExec intercepts go tool commands when used with -toolexec
func handleToolExec(cmd *cobra.Command, args []string) {
	// Args: [/path/to/compile, compile-args...]
	tool := args[0]
	args = args[1:]

	// The link step needs the runtime archive on top of the program's
	// own packages.
	if strings.HasSuffix(tool, "link") {
		handleLinkCommand(tool, args)
		return
	}

	// Only instrument for compile commands
	if !strings.HasSuffix(tool, "compile") {
		runTool(tool, args)
		return
	}

	// Find .go source files and importcfg in arguments
	var goFiles []string
	var newArgs []string
	var importcfgPath string
	tempDir := ""

	// Get GOROOT to filter out standard library files
	goroot := os.Getenv("GOROOT")
	if goroot == "" {
		cmd := exec.Command("go", "env", "GOROOT")
		if out, err := cmd.Output(); err == nil {
			goroot = strings.TrimSpace(string(out))
		}
	}

	for i, arg := range args {
		if strings.HasSuffix(arg, ".go") && !strings.HasPrefix(arg, "-") {
			// Skip files in GOROOT
			if goroot != "" && strings.HasPrefix(filepath.Clean(arg), filepath.Clean(goroot)) {
				continue
			}
			goFiles = append(goFiles, arg)
		}
		if arg == "-importcfg" && i+1 < len(args) {
			importcfgPath = args[i+1]
		}
	}

	// If no .go files, just pass through
	if len(goFiles) == 0 {
		runTool(tool, args)
		return
	}

	// Use Go's work directory if available, otherwise create temp directory
	var err error
	tempDir = os.Getenv("WORK")
	if tempDir == "" {
		tempDir, err = os.MkdirTemp("", "mycroft_*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "mycroft: failed to create temp dir: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tempDir)
	}

	// Instrument all .go files together (for proper type checking)
	var customImporter types.Importer
	if importcfgPath != "" {
		customImporter, err = createImporterFromCfg(importcfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mycroft: warning: failed to create importer from cfg: %v\n", err)
			customImporter = nil
		}
	}

	instrumentedFiles, wasInstrumented, err := instrumentFilesToDir(goFiles, tempDir, customImporter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mycroft: failed to instrument: %v\n", err)
		os.Exit(1)
	}

	// Build map of original -> instrumented file paths
	fileMap := make(map[string]string)
	for i, origFile := range goFiles {
		fileMap[origFile] = instrumentedFiles[i]
	}

	// Only modify importcfg if we actually added instrumentation
	newImportcfgPath := importcfgPath
	if wasInstrumented && importcfgPath != "" {
		newImportcfgPath, err = modifyImportCfg(importcfgPath, tempDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mycroft: failed to modify importcfg: %v\n", err)
			os.Exit(1)
		}
	}

	// Replace original files with instrumented versions and update importcfg in args
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if instrumented, ok := fileMap[arg]; ok {
			newArgs = append(newArgs, instrumented)
		} else if arg == "-importcfg" && newImportcfgPath != importcfgPath {
			newArgs = append(newArgs, arg)
			i++
			if i < len(args) {
				newArgs = append(newArgs, newImportcfgPath)
			}
		} else {
			newArgs = append(newArgs, arg)
		}
	}

	// Run the original compile command with instrumented files
	runTool(tool, newArgs)
}

// createImporterFromCfg creates a types.Importer from an importcfg file
func createImporterFromCfg(importcfgPath string) (types.Importer, error) {
	content, err := os.ReadFile(importcfgPath)
	if err != nil {
		return nil, err
	}

	// Parse importcfg to build package map
	packageMap := make(map[string]string)
	lines := strings.Split(string(content), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "packagefile ") {
			// Format: packagefile path=archive
			parts := strings.SplitN(line[12:], "=", 2)
			if len(parts) == 2 {
				packageMap[parts[0]] = parts[1]
			}
		}
	}

	return &importCfgImporter{
		packageMap:      packageMap,
		defaultImporter: importer.Default(),
	}, nil
}

// importCfgImporter implements types.Importer using an importcfg package map
type importCfgImporter struct {
	packageMap      map[string]string
	defaultImporter types.Importer
}

func (imp *importCfgImporter) Import(path string) (*types.Package, error) {
	// Try to find package in our map
	if archivePath, ok := imp.packageMap[path]; ok {
		// Use ForCompiler to read .a files
		gcImporter := importer.ForCompiler(token.NewFileSet(), "gc", func(p string) (io.ReadCloser, error) {
			return os.Open(archivePath)
		})
		return gcImporter.Import(path)
	}

	// Fall back to default importer
	return imp.defaultImporter.Import(path)
}

// compileRuntimeArchive compiles the controlled runtime package into an
// archive under tempDir, so the importcfg of the program under test can
// reference it.
func compileRuntimeArchive(tempDir string) (string, error) {
	archivePath := filepath.Join(tempDir, "mycroft_runtime.a")
	if _, err := os.Stat(archivePath); err == nil {
		return archivePath, nil
	}

	// The runtime sources ship next to the mycroft binary, which is
	// installed under the project's bin/ directory.
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	projectRoot := filepath.Dir(filepath.Dir(exePath))
	runtimeSrcDir := filepath.Join(projectRoot, "pkg", "runtime")

	srcs, err := filepath.Glob(filepath.Join(runtimeSrcDir, "*.go"))
	if err != nil {
		return "", err
	}
	var compileSrcs []string
	for _, s := range srcs {
		if !strings.HasSuffix(s, "_test.go") {
			compileSrcs = append(compileSrcs, s)
		}
	}
	if len(compileSrcs) == 0 {
		return "", fmt.Errorf("no runtime sources found in %s", runtimeSrcDir)
	}

	toolDirOut, err := exec.Command("go", "env", "GOTOOLDIR").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get GOTOOLDIR: %w", err)
	}
	compilePath := filepath.Join(strings.TrimSpace(string(toolDirOut)), "compile")

	compileArgs := append([]string{"-o", archivePath, "-p", runtimePkgPath}, compileSrcs...)
	if output, err := exec.Command(compilePath, compileArgs...).CombinedOutput(); err != nil {
		return "", fmt.Errorf("failed to compile runtime package: %w\nOutput: %s", err, string(output))
	}
	return archivePath, nil
}

// appendRuntimeEntry writes a copy of the importcfg with the runtime
// archive appended and returns its path.
func appendRuntimeEntry(originalPath, tempDir, outName string) (string, error) {
	content, err := os.ReadFile(originalPath)
	if err != nil {
		return "", err
	}

	archivePath, err := compileRuntimeArchive(tempDir)
	if err != nil {
		return "", err
	}

	newContent := string(content) + fmt.Sprintf("packagefile %s=%s\n", runtimePkgPath, archivePath)

	newPath := filepath.Join(tempDir, outName)
	if err := os.WriteFile(newPath, []byte(newContent), 0644); err != nil {
		return "", err
	}
	return newPath, nil
}

// modifyImportCfg adds the runtime package to the compile importcfg
func modifyImportCfg(originalPath, tempDir string) (string, error) {
	return appendRuntimeEntry(originalPath, tempDir, "importcfg")
}

// instrumentFilesToDir instruments multiple files together and writes them to the target directory
// Returns the instrumented file paths and whether any instrumentation was added
func instrumentFilesToDir(goFiles []string, targetDir string, customImporter types.Importer) ([]string, bool, error) {
	cfg := instrument.DefaultConfig()
	cfg.Importer = customImporter
	instr := instrument.NewInstrumenter(cfg)
	fset := token.NewFileSet()

	// Instrument all files together (for proper type checking across files)
	instrumentedASTs, err := instr.InstrumentFiles(fset, goFiles)
	if err != nil {
		return nil, false, err
	}

	// Write each instrumented file to the target directory
	outputFiles := make([]string, len(goFiles))
	for i, origFile := range goFiles {
		baseName := filepath.Base(origFile)
		outputPath := filepath.Join(targetDir, baseName)

		f, err := os.Create(outputPath)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create %s: %w", outputPath, err)
		}

		err = instrument.WriteInstrumented(f, fset, instrumentedASTs[i])
		f.Close()
		if err != nil {
			return nil, false, fmt.Errorf("failed to write %s: %w", outputPath, err)
		}

		outputFiles[i] = outputPath
	}

	return outputFiles, instr.WasInstrumented(), nil
}

// handleLinkCommand intercepts link commands and adds the runtime package to importcfg
func handleLinkCommand(tool string, args []string) {
	// Find importcfg in arguments
	var importcfgPath string
	for i, arg := range args {
		if arg == "-importcfg" && i+1 < len(args) {
			// Expand environment variables in the path
			importcfgPath = os.ExpandEnv(args[i+1])
			break
		}
	}

	if importcfgPath == "" {
		runTool(tool, args)
		return
	}

	tempDir, err := os.MkdirTemp("", "mycroft_link_*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mycroft: warning: failed to create temp dir: %v\n", err)
		runTool(tool, args)
		return
	}
	defer os.RemoveAll(tempDir)

	newImportcfgPath, err := appendRuntimeEntry(importcfgPath, tempDir, "importcfg.link")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mycroft: warning: failed to modify link importcfg: %v\n", err)
	} else {
		for i, arg := range args {
			if arg == "-importcfg" && i+1 < len(args) {
				args[i+1] = newImportcfgPath
				break
			}
		}
	}

	runTool(tool, args)
}
