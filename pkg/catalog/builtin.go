package catalog

// Ids of the items that ship with a dedicated removal routine.
const (
	EdgeID     = "edge"
	OneDriveID = "onedrive"
)

// Builtin returns the items whose removal logic is compiled into sweeper.
func Builtin() []Item {
	return []Item{
		{
			ID:               EdgeID,
			Name:             "Microsoft Edge",
			AppxPackageName:  "Microsoft.MicrosoftEdge.Stable",
			SubPackages:      []string{"Microsoft.MicrosoftEdge", "Microsoft.MicrosoftEdgeDevToolsClient"},
			WinGetPackageIDs: []string{"Microsoft.Edge"},
			ProcessNames:     []string{"msedge.exe", "MicrosoftEdgeUpdate.exe"},
			RegistrySettings: []RegistrySetting{
				{Hive: "HKLM", Path: `SOFTWARE\Microsoft\EdgeUpdate`, Name: "DoNotUpdateToEdgeWithChromium", Type: ValueDWord, Value: "1"},
			},
			RemovalScript: edgeRemovalScript,
		},
		{
			ID:               OneDriveID,
			Name:             "OneDrive",
			AppxPackageName:  "Microsoft.OneDriveSync",
			WinGetPackageIDs: []string{"Microsoft.OneDrive"},
			ProcessNames:     []string{"OneDrive.exe"},
			RegistrySettings: []RegistrySetting{
				{Hive: "HKLM", Path: `SOFTWARE\Policies\Microsoft\Windows\OneDrive`, Name: "DisableFileSyncNGSC", Type: ValueDWord, Value: "1"},
			},
			RemovalScript: oneDriveRemovalScript,
		},
	}
}

func edgeRemovalScript() string {
	return `# Microsoft Edge removal
$ErrorActionPreference = 'SilentlyContinue'

Get-Process -Name msedge, MicrosoftEdgeUpdate -ErrorAction SilentlyContinue | Stop-Process -Force

$edgeRoots = @(
    "${env:ProgramFiles(x86)}\Microsoft\Edge\Application",
    "$env:ProgramFiles\Microsoft\Edge\Application"
)
foreach ($root in $edgeRoots) {
    if (-not (Test-Path $root)) { continue }
    Get-ChildItem -Path $root -Filter setup.exe -Recurse | ForEach-Object {
        Write-Output "Running $($_.FullName)"
        Start-Process -FilePath $_.FullName -ArgumentList '--uninstall --system-level --verbose-logging --force-uninstall' -Wait
    }
}

Get-AppxPackage -AllUsers -Name 'Microsoft.MicrosoftEdge*' | Remove-AppxPackage -AllUsers

New-Item -Path 'HKLM:\SOFTWARE\Microsoft\EdgeUpdate' -Force | Out-Null
Set-ItemProperty -Path 'HKLM:\SOFTWARE\Microsoft\EdgeUpdate' -Name 'DoNotUpdateToEdgeWithChromium' -Value 1 -Type DWord
`
}

func oneDriveRemovalScript() string {
	return `# OneDrive removal
$ErrorActionPreference = 'SilentlyContinue'

Get-Process -Name OneDrive -ErrorAction SilentlyContinue | Stop-Process -Force

$setups = @(
    "$env:SystemRoot\System32\OneDriveSetup.exe",
    "$env:SystemRoot\SysWOW64\OneDriveSetup.exe"
)
foreach ($setup in $setups) {
    if (Test-Path $setup) {
        Write-Output "Running $setup /uninstall"
        Start-Process -FilePath $setup -ArgumentList '/uninstall' -Wait
    }
}

Remove-Item -Path "$env:UserProfile\OneDrive" -Recurse -Force
Remove-Item -Path "$env:LocalAppData\Microsoft\OneDrive" -Recurse -Force
Remove-Item -Path "$env:ProgramData\Microsoft OneDrive" -Recurse -Force
`
}
