package uninstall

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/windowsadmins/sweeper/pkg/winreg"
)

func TestFuzzyMatch(t *testing.T) {
	tests := []struct {
		search, display string
		want            bool
	}{
		{"7-Zip", "7-Zip 23.01 (x64 edition)", true},
		{"Zoom", "Z", false},
		{"Zoom", "Zoom Workplace (64-bit)", true},
		{"Microsoft Teams", "Teams Machine-Wide Installer", false},
		{"Microsoft Teams classic", "Microsoft Teams", true},
		{"Spotify", "spotify", true},
		{"Adobe Acrobat Reader", "Adobe Acrobat (64-bit)", true},
		{"Skype", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.search+"/"+tt.display, func(t *testing.T) {
			assert.Equal(t, tt.want, FuzzyMatch(tt.search, tt.display))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "7zip 2301 x64 edition", normalize("  7-Zip 23.01\t(x64 edition) "))
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in, file, args string
	}{
		{`"C:\Program Files\App\uninst.exe" /foo`, `C:\Program Files\App\uninst.exe`, "/foo"},
		{`C:\Program Files\App\uninst.exe /S`, `C:\Program Files\App\uninst.exe`, "/S"},
		{`MsiExec.exe /I{1A2B3C4D-0000-1111-2222-333344445555}`, "MsiExec.exe", "/I{1A2B3C4D-0000-1111-2222-333344445555}"},
		{`"C:\x\unins000.exe"`, `C:\x\unins000.exe`, ""},
		{`rundll32 foo.dll,Uninstall`, "rundll32", "foo.dll,Uninstall"},
		{"", "", ""},
	}
	for _, tt := range tests {
		file, args := ParseCommand(tt.in)
		assert.Equal(t, tt.file, file, tt.in)
		assert.Equal(t, tt.args, args, tt.in)
	}
}

func TestAddSilentFlags(t *testing.T) {
	file, args := ParseCommand(`"C:\Program Files\App\uninst.exe" /foo`)
	assert.Equal(t, `C:\Program Files\App\uninst.exe`, file)
	assert.Equal(t, "/foo /VERYSILENT /NORESTART", AddSilentFlags(file, args))

	assert.Equal(t, "/SILENT /NORESTART", AddSilentFlags("unins000.exe", "/SILENT"))
	assert.Equal(t, "/verysilent /norestart", AddSilentFlags("unins000.exe", "/verysilent /norestart"))

	assert.Equal(t, "/X{1A2B3C4D-0000-1111-2222-333344445555} /quiet /norestart",
		AddSilentFlags("MsiExec.exe", "/I{1A2B3C4D-0000-1111-2222-333344445555}"))
	assert.Equal(t, "/x{ABC} /qn /norestart", AddSilentFlags(`C:\Windows\System32\msiexec.exe`, "/x{ABC} /qn"))
}

func TestBestMatchPrefersHighestVersion(t *testing.T) {
	entries := []winreg.UninstallEntry{
		{DisplayName: "7-Zip 19.00", DisplayVersion: "19.00", UninstallString: `C:\old\uninst.exe`},
		{DisplayName: "7-Zip 23.01 (x64 edition)", DisplayVersion: "23.01", UninstallString: `C:\new\uninst.exe`},
		{DisplayName: "7-Zip 24.00", DisplayVersion: "24.00"},
		{DisplayName: "Notepad++", DisplayVersion: "8.6", UninstallString: `C:\npp\uninstall.exe`},
	}
	e, ok := BestMatch("7-Zip", entries)
	assert.True(t, ok)
	assert.Equal(t, `C:\new\uninst.exe`, e.Command())

	_, ok = BestMatch("Zoom", entries)
	assert.False(t, ok)
}

func TestBestMatchPrefersQuietOnTie(t *testing.T) {
	entries := []winreg.UninstallEntry{
		{DisplayName: "Spotify", DisplayVersion: "1.2", UninstallString: "a.exe"},
		{DisplayName: "Spotify", DisplayVersion: "1.2", UninstallString: "b.exe", QuietUninstallString: "b.exe /S"},
	}
	e, ok := BestMatch("Spotify", entries)
	assert.True(t, ok)
	assert.Equal(t, "b.exe /S", e.Command())
}
