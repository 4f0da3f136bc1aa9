//go:build windows

package updater

import (
	"path/filepath"
	"strings"

	"golang.org/x/sys/windows"
)

// setPermissions grants BUILTIN\Users read+execute on path when the
// installation is public (lives under the machine-wide program-data root).
// Private per-user installs inherit the profile's own ACLs.
func (t *Task) setPermissions(path string) {
	if !t.isPublicInstall() {
		return
	}
	if err := grantUsersReadExecute(path); err != nil {
		t.logger.Warn().Err(err).Str("path", path).Msg("could not grant users access")
		return
	}
	t.logger.Debug().Str("path", path).Msg("permissions updated")
}

// finalizePermissions is a no-op on Windows: ACL grants happen per file
// during commit.
func (t *Task) finalizePermissions() {}

func (t *Task) isPublicInstall() bool {
	common, err := windows.KnownFolderPath(windows.FOLDERID_ProgramData, 0)
	if err != nil || common == "" {
		return false
	}
	rel, err := filepath.Rel(common, t.layout.AppDir)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func grantUsersReadExecute(path string) error {
	sid, err := windows.CreateWellKnownSid(windows.WinBuiltinUsersSid)
	if err != nil {
		return err
	}

	sd, err := windows.GetNamedSecurityInfo(path, windows.SE_FILE_OBJECT, windows.DACL_SECURITY_INFORMATION)
	if err != nil {
		return err
	}
	oldDACL, _, err := sd.DACL()
	if err != nil {
		return err
	}

	ea := windows.EXPLICIT_ACCESS{
		AccessPermissions: windows.ACCESS_MASK(windows.GENERIC_READ | windows.GENERIC_EXECUTE),
		AccessMode:        windows.GRANT_ACCESS,
		Inheritance:       windows.NO_INHERITANCE,
		Trustee: windows.TRUSTEE{
			TrusteeForm:  windows.TRUSTEE_IS_SID,
			TrusteeType:  windows.TRUSTEE_IS_WELL_KNOWN_GROUP,
			TrusteeValue: windows.TrusteeValueFromSID(sid),
		},
	}

	newDACL, err := windows.ACLFromEntries([]windows.EXPLICIT_ACCESS{ea}, oldDACL)
	if err != nil {
		return err
	}

	return windows.SetNamedSecurityInfo(
		path,
		windows.SE_FILE_OBJECT,
		windows.DACL_SECURITY_INFORMATION,
		nil, nil, newDACL, nil,
	)
}
