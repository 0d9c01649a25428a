//go:build linux

package process

import (
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Landlock filesystem rights. ABI 2 adds REFER and ABI 3 adds TRUNCATE.
const (
	fsReadOnly = unix.LANDLOCK_ACCESS_FS_EXECUTE |
		unix.LANDLOCK_ACCESS_FS_READ_FILE |
		unix.LANDLOCK_ACCESS_FS_READ_DIR
	fsWriteV1 = unix.LANDLOCK_ACCESS_FS_WRITE_FILE |
		unix.LANDLOCK_ACCESS_FS_REMOVE_DIR |
		unix.LANDLOCK_ACCESS_FS_REMOVE_FILE |
		unix.LANDLOCK_ACCESS_FS_MAKE_CHAR |
		unix.LANDLOCK_ACCESS_FS_MAKE_DIR |
		unix.LANDLOCK_ACCESS_FS_MAKE_REG |
		unix.LANDLOCK_ACCESS_FS_MAKE_SOCK |
		unix.LANDLOCK_ACCESS_FS_MAKE_FIFO |
		unix.LANDLOCK_ACCESS_FS_MAKE_BLOCK |
		unix.LANDLOCK_ACCESS_FS_MAKE_SYM
)

var (
	landlockOnce sync.Once
	landlockABI  int
)

func landlockVersion() int {
	landlockOnce.Do(func() {
		v, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET, 0, 0, unix.LANDLOCK_CREATE_RULESET_VERSION)
		if errno == 0 {
			landlockABI = int(v)
		}
	})
	return landlockABI
}

// confinementAvailable reports whether the kernel supports Landlock.
func confinementAvailable() bool { return landlockVersion() >= 1 }

// startConfined starts cmd from a dedicated OS thread that first restricts
// itself with Landlock: the whole tree stays readable and executable, only
// the writable directories accept writes. The child inherits the domain
// across exec. The thread is never unlocked, so the runtime throws it away
// when the goroutine returns.
func startConfined(cmd *exec.Cmd, writable ...string) error {
	abi := landlockVersion()
	if abi < 1 {
		return ErrIsolationUnavailable
	}
	errc := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		if err := restrictThread(abi, writable); err != nil {
			errc <- fmt.Errorf("%w: %v", ErrIsolationUnavailable, err)
			return
		}
		errc <- cmd.Start()
	}()
	return <-errc
}

func restrictThread(abi int, writable []string) error {
	write := uint64(fsWriteV1)
	fileRights := uint64(unix.LANDLOCK_ACCESS_FS_READ_FILE | unix.LANDLOCK_ACCESS_FS_WRITE_FILE)
	if abi >= 2 {
		write |= unix.LANDLOCK_ACCESS_FS_REFER
	}
	if abi >= 3 {
		write |= unix.LANDLOCK_ACCESS_FS_TRUNCATE
		fileRights |= unix.LANDLOCK_ACCESS_FS_TRUNCATE
	}

	attr := unix.LandlockRulesetAttr{Access_fs: fsReadOnly | write}
	fd, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET, uintptr(unsafe.Pointer(&attr)), unsafe.Sizeof(attr), 0)
	if errno != 0 {
		return fmt.Errorf("landlock create ruleset: %w", errno)
	}
	ruleset := int(fd)
	defer unix.Close(ruleset)

	if err := addPathRule(ruleset, "/", fsReadOnly); err != nil {
		return err
	}
	if err := addPathRule(ruleset, "/dev/null", fileRights); err != nil {
		return err
	}
	for _, dir := range writable {
		if err := addPathRule(ruleset, dir, fsReadOnly|write); err != nil {
			return err
		}
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no_new_privs: %w", err)
	}
	if _, _, errno := unix.Syscall(unix.SYS_LANDLOCK_RESTRICT_SELF, uintptr(ruleset), 0, 0); errno != 0 {
		return fmt.Errorf("landlock restrict self: %w", errno)
	}
	return nil
}

func addPathRule(ruleset int, path string, access uint64) error {
	fd, err := unix.Open(path, unix.O_PATH|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("landlock open %s: %w", path, err)
	}
	defer unix.Close(fd)
	rule := unix.LandlockPathBeneathAttr{Allowed_access: access, Parent_fd: int32(fd)}
	_, _, errno := unix.Syscall6(unix.SYS_LANDLOCK_ADD_RULE,
		uintptr(ruleset), unix.LANDLOCK_RULE_PATH_BENEATH, uintptr(unsafe.Pointer(&rule)), 0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("landlock add rule %s: %w", path, errno)
	}
	return nil
}
