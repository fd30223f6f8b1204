package cave

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// pkgManager is the PKGMANAGER identity handed to every phase child.
const pkgManager = "cave"

// BuildBackend is the opaque external build-backend collaborator: an
// ebuild.bash-shaped child process per phase, communicating
// over a fixed environment-variable contract and a line-oriented stdin
// RPC. The core never interprets bash; it only honours this contract.
type BuildBackend interface {
	// RunPhase spawns the phase script for id with the given space-joined
	// phase list and environment, returning its exit code.
	RunPhase(id *PackageId, phases string, env PhaseEnv) (exitCode int, err error)
}

// PhaseEnv is the environment-variable contract the executor computes
// per phase invocation; BuildBackend implementations may add further
// backend-specific variables before exec. Slice-valued fields are joined
// with single spaces on the way into the child environment.
type PhaseEnv struct {
	EbuildPath      string // the ebuild being run, also argv[1] of the phase child
	EbuildDir       string // directory holding the ebuild.bash machinery
	Root            string
	Distdir         string
	FilesDir        string
	EclassDir       string
	EclassDirs      []string
	ExlibsDirs      []string
	ProfileDir      string
	ProfileDirs     []string
	TmpDir          string
	ConfigDir       string
	BashrcFiles     []string
	HookDirs        []string
	FetcherDirs     []string
	SyncerDirs      []string
	Command         string // the cave invocation to re-run for pipe commands
	EbuildLogLevel  string
	ReducedUID      int
	ReducedGID      int
	Use             []string
	UseExpand       []string
	UseExpandHidden []string
	Archives        []string // A: the distfiles this version fetches
	AllArchives     []string // AA: every distfile named anywhere in SRC_URI
	AcceptLicense   string
}

// envList renders PhaseEnv plus the PackageId's own identity fields into
// the exhaustive variable list EAPI compliance requires.
func envList(id *PackageId, env PhaseEnv) []string {
	pvr := id.Ver.String()
	pv := pvr
	pr := "r0"
	if id.Ver.revision > 0 {
		pr = fmt.Sprintf("r%d", id.Ver.revision)
		pv = strings.TrimSuffix(pvr, "-"+pr)
	}
	eapi := id.EAPI
	if eapi == "" {
		eapi = "0"
	}
	out := []string{
		"P=" + id.Name.Package + "-" + pv,
		"PN=" + id.Name.Package,
		"PV=" + pv,
		"PR=" + pr,
		"PVR=" + pvr,
		"CATEGORY=" + id.Name.Category,
		"SLOT=" + string(id.SlotName),
		"REPOSITORY=" + id.Repository,
		"EAPI=" + eapi,
		"PALUDIS_TMPDIR=" + env.TmpDir,
		"PALUDIS_CONFIG_DIR=" + env.ConfigDir,
		"PALUDIS_BASHRC_FILES=" + strings.Join(env.BashrcFiles, " "),
		"PALUDIS_HOOK_DIRS=" + strings.Join(env.HookDirs, " "),
		"PALUDIS_FETCHERS_DIRS=" + strings.Join(env.FetcherDirs, " "),
		"PALUDIS_SYNCERS_DIRS=" + strings.Join(env.SyncerDirs, " "),
		"PALUDIS_COMMAND=" + env.Command,
		"PALUDIS_EBUILD_LOG_LEVEL=" + env.EbuildLogLevel,
		"PALUDIS_EBUILD_DIR=" + env.EbuildDir,
		"PALUDIS_REDUCED_UID=" + strconv.Itoa(env.ReducedUID),
		"PALUDIS_REDUCED_GID=" + strconv.Itoa(env.ReducedGID),
		"USE=" + strings.Join(env.Use, " "),
		"USE_EXPAND=" + strings.Join(env.UseExpand, " "),
		"USE_EXPAND_HIDDEN=" + strings.Join(env.UseExpandHidden, " "),
		"A=" + strings.Join(env.Archives, " "),
		"AA=" + strings.Join(env.AllArchives, " "),
		"ACCEPT_LICENSE=" + env.AcceptLicense,
		"ROOT=" + env.Root,
		"DISTDIR=" + env.Distdir,
		"FILESDIR=" + env.FilesDir,
		"ECLASSDIR=" + env.EclassDir,
		"ECLASSDIRS=" + strings.Join(env.EclassDirs, " "),
		"EXLIBSDIRS=" + strings.Join(env.ExlibsDirs, " "),
		"PALUDIS_PROFILE_DIR=" + env.ProfileDir,
		"PALUDIS_PROFILE_DIRS=" + strings.Join(env.ProfileDirs, " "),
		"PKGMANAGER=" + pkgManager,
		"PALUDIS_PIPE_COMMANDS_SUPPORTED=yes",
	}
	return out
}

// ebuildBackend is the default BuildBackend: it actually execs
// "<path>/ebuild.bash <ebuild-path> <phase>", wiring its stdin to
// an RPC handler that answers BEST_VERSION/HAS_VERSION/MATCH queries
// against a PackageUniverse.
type ebuildBackend struct {
	ScriptDir string
	Universe  PackageUniverse
}

// NewEbuildBackend constructs the default, spec-contract-following
// BuildBackend.
func NewEbuildBackend(scriptDir string, universe PackageUniverse) BuildBackend {
	return &ebuildBackend{ScriptDir: scriptDir, Universe: universe}
}

func (b *ebuildBackend) RunPhase(id *PackageId, phases string, env PhaseEnv) (int, error) {
	cmd := exec.Command(b.ScriptDir+"/ebuild.bash", env.EbuildPath, phases)
	cmd.Env = envList(id, env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return -1, errors.Wrap(err, "opening phase stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, errors.Wrap(err, "opening phase stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		return -1, errors.Wrapf(err, "starting phase %q for %s", phases, id)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveRPC(stdin, stdout, b.Universe)
	}()
	<-done

	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, errors.Wrapf(err, "running phase %q for %s", phases, id)
}

// serveRPC answers the line-oriented BEST_VERSION/HAS_VERSION/MATCH
// protocol: it reads one request per line from r (the phase child's
// stdout) and writes each single-line answer to w (the child's stdin pipe).
func serveRPC(w io.WriteCloser, r io.Reader, universe PackageUniverse) {
	defer w.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		var reply string
		switch fields[0] {
		case "BEST_VERSION":
			reply = rpcBestVersion(universe, fields[1:])
		case "HAS_VERSION":
			reply = rpcHasVersion(universe, fields[1:])
		case "MATCH":
			reply = rpcMatch(universe, fields[1:])
		default:
			reply = ""
		}
		fmt.Fprintln(w, reply)
	}
}

func rpcBestVersion(universe PackageUniverse, args []string) string {
	if len(args) == 0 {
		return ""
	}
	spec, err := ParseSpec(args[0])
	if err != nil {
		return ""
	}
	cands, err := universe.IdsForPackage(spec.Name)
	if err != nil {
		return ""
	}
	var best *PackageId
	for _, c := range cands {
		if !spec.MatchesVersion(c.Ver) {
			continue
		}
		if best == nil || best.Ver.Less(c.Ver) {
			best = c
		}
	}
	if best == nil {
		return ""
	}
	return best.Canonical()
}

func rpcHasVersion(universe PackageUniverse, args []string) string {
	if rpcBestVersion(universe, args) != "" {
		return "true"
	}
	return "false"
}

func rpcMatch(universe PackageUniverse, args []string) string {
	if len(args) < 2 {
		return "false"
	}
	spec, err := ParseSpec(args[1])
	if err != nil {
		return "false"
	}
	cands, err := universe.IdsForPackage(spec.Name)
	if err != nil {
		return "false"
	}
	for _, c := range cands {
		if c.Canonical() == args[0] && spec.MatchesVersion(c.Ver) {
			return "true"
		}
	}
	return "false"
}
