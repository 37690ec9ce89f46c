package removal

import (
	"strings"

	"github.com/windowsadmins/sweeper/pkg/catalog"
)

// specialHandler is the bulk-script fix-up run for a special operation.
type specialHandler struct {
	related []string // package names whose removal also retires the operation
	script  string
}

func (h specialHandler) relates(pkg string) bool {
	for _, r := range h.related {
		if strings.EqualFold(r, strings.TrimSpace(pkg)) {
			return true
		}
	}
	return false
}

var specialHandlers = map[catalog.Special]specialHandler{
	catalog.SpecialOneNote: {
		related: []string{"Microsoft.Office.OneNote", "Microsoft.OneNote"},
		script: `Remove-Printer -Name 'Send To OneNote 2016' -ErrorAction SilentlyContinue
Remove-Printer -Name 'OneNote (Desktop)' -ErrorAction SilentlyContinue
$oneNoteShortcut = Join-Path $env:ProgramData 'Microsoft\Windows\Start Menu\Programs\OneNote for Windows 10.lnk'
Remove-Item -Path $oneNoteShortcut -Force -ErrorAction SilentlyContinue
`,
	},
	catalog.SpecialTeams: {
		related: []string{"MicrosoftTeams", "MSTeams", "Microsoft.Teams"},
		script: `$teamsInstaller = Get-ItemProperty 'HKLM:\SOFTWARE\WOW6432Node\Microsoft\Windows\CurrentVersion\Uninstall\*', 'HKLM:\SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall\*' -ErrorAction SilentlyContinue |
    Where-Object { $_.DisplayName -eq 'Teams Machine-Wide Installer' }
foreach ($entry in $teamsInstaller) {
    Start-Process -FilePath 'msiexec.exe' -ArgumentList "/x $($entry.PSChildName) /quiet /norestart" -Wait
}
New-Item -Path 'HKLM:\SOFTWARE\Policies\Microsoft\Windows\Windows Chat' -Force | Out-Null
Set-ItemProperty -Path 'HKLM:\SOFTWARE\Policies\Microsoft\Windows\Windows Chat' -Name 'ChatIcon' -Value 3 -Type DWord
`,
	},
}

// auxiliaryBlock is emitted when any of its trigger packages is queued.
type auxiliaryBlock struct {
	name     string
	triggers []string
	script   string
}

func (a auxiliaryBlock) triggered(packages []string) bool {
	for _, p := range packages {
		for _, t := range a.triggers {
			if strings.EqualFold(p, t) {
				return true
			}
		}
	}
	return false
}

var auxiliaryBlocks = []auxiliaryBlock{
	{
		name:     "Disable Game DVR",
		triggers: []string{"Microsoft.XboxGamingOverlay", "Microsoft.XboxGameOverlay"},
		script: `New-Item -Path 'HKLM:\SOFTWARE\Policies\Microsoft\Windows\GameDVR' -Force | Out-Null
Set-ItemProperty -Path 'HKLM:\SOFTWARE\Policies\Microsoft\Windows\GameDVR' -Name 'AllowGameDVR' -Value 0 -Type DWord
Set-ItemProperty -Path 'HKCU:\System\GameConfigStore' -Name 'GameDVR_Enabled' -Value 0 -Type DWord -ErrorAction SilentlyContinue
`,
	},
	{
		name:     "Turn off Copilot",
		triggers: []string{"Microsoft.Copilot", "Microsoft.Windows.Ai.Copilot.Provider"},
		script: `New-Item -Path 'HKLM:\SOFTWARE\Policies\Microsoft\Windows\WindowsCopilot' -Force | Out-Null
Set-ItemProperty -Path 'HKLM:\SOFTWARE\Policies\Microsoft\Windows\WindowsCopilot' -Name 'TurnOffWindowsCopilot' -Value 1 -Type DWord
`,
	},
}
