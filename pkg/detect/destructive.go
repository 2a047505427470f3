package detect

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/clawsec/core/pkg/config"
	"github.com/clawsec/core/pkg/contracts"
)

// dangerousPaths are filesystem roots whose recursive removal is graded
// critical regardless of flags.
var dangerousPaths = []string{
	"/", "/bin", "/boot", "/dev", "/etc", "/home", "/lib", "/opt",
	"/proc", "/root", "/sbin", "/sys", "/usr", "/var", "~",
}

type destructivePattern struct {
	re         *regexp.Regexp
	severity   contracts.Severity
	confidence float64
	reason     string
}

// rmPattern is handled separately: severity depends on the target path.
var rmPattern = regexp.MustCompile(`(?i)\brm\s+(-[a-z]*[rf][a-z]*\s+)+(?P<target>[^\s;|&]+)`)

var shellPatterns = []destructivePattern{
	{regexp.MustCompile(`(?i)\bdrop\s+(table|database|schema)\b`), contracts.SeverityCritical, 0.9, "SQL DROP statement"},
	{regexp.MustCompile(`(?i)\btruncate\s+table\b`), contracts.SeverityHigh, 0.9, "SQL TRUNCATE statement"},
	{regexp.MustCompile(`(?i)\bmkfs(\.\w+)?\s`), contracts.SeverityCritical, 0.95, "filesystem format command"},
	{regexp.MustCompile(`(?i)\bdd\s+[^|;]*of=/dev/(sd|hd|nvme|mmcblk)`), contracts.SeverityCritical, 0.95, "raw write to block device"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\}\s*;?\s*:`), contracts.SeverityCritical, 0.98, "fork bomb"},
	{regexp.MustCompile(`(?i)\bshred\s+(-\w+\s+)*/`), contracts.SeverityHigh, 0.85, "secure wipe of filesystem path"},
	{regexp.MustCompile(`(?i)>\s*/dev/(sd|hd|nvme)`), contracts.SeverityCritical, 0.9, "redirect onto block device"},
	{regexp.MustCompile(`(?i)\bchmod\s+(-R\s+)?000\s+/`), contracts.SeverityHigh, 0.8, "recursive permission removal on system path"},
}

var cloudPatterns = []destructivePattern{
	// AWS
	{regexp.MustCompile(`(?i)\baws\s+s3\s+rb\b.*--force`), contracts.SeverityCritical, 0.95, "force-delete of S3 bucket"},
	{regexp.MustCompile(`(?i)\baws\s+s3\s+rm\b.*--recursive`), contracts.SeverityHigh, 0.9, "recursive S3 object deletion"},
	{regexp.MustCompile(`(?i)\baws\s+ec2\s+terminate-instances\b`), contracts.SeverityHigh, 0.9, "EC2 instance termination"},
	{regexp.MustCompile(`(?i)\baws\s+rds\s+delete-db-instance\b`), contracts.SeverityCritical, 0.95, "RDS database deletion"},
	{regexp.MustCompile(`(?i)\baws\s+cloudformation\s+delete-stack\b`), contracts.SeverityHigh, 0.85, "CloudFormation stack deletion"},
	{regexp.MustCompile(`(?i)\baws\s+dynamodb\s+delete-table\b`), contracts.SeverityCritical, 0.95, "DynamoDB table deletion"},
	// GCP
	{regexp.MustCompile(`(?i)\bgcloud\s+projects\s+delete\b`), contracts.SeverityCritical, 0.95, "GCP project deletion"},
	{regexp.MustCompile(`(?i)\bgcloud\s+compute\s+instances\s+delete\b`), contracts.SeverityHigh, 0.9, "GCE instance deletion"},
	{regexp.MustCompile(`(?i)\bgcloud\s+sql\s+instances\s+delete\b`), contracts.SeverityCritical, 0.95, "Cloud SQL instance deletion"},
	{regexp.MustCompile(`(?i)\bgsutil\s+(-m\s+)?rm\s+-r\b`), contracts.SeverityHigh, 0.9, "recursive GCS deletion"},
	// Azure
	{regexp.MustCompile(`(?i)\baz\s+group\s+delete\b`), contracts.SeverityCritical, 0.95, "Azure resource group deletion"},
	{regexp.MustCompile(`(?i)\baz\s+vm\s+delete\b`), contracts.SeverityHigh, 0.9, "Azure VM deletion"},
	{regexp.MustCompile(`(?i)\baz\s+storage\s+account\s+delete\b`), contracts.SeverityCritical, 0.95, "Azure storage account deletion"},
	// Kubernetes
	{regexp.MustCompile(`(?i)\bkubectl\s+delete\s+(ns|namespace)\b`), contracts.SeverityCritical, 0.95, "Kubernetes namespace deletion"},
	{regexp.MustCompile(`(?i)\bkubectl\s+delete\s+\S+\s+--all\b`), contracts.SeverityHigh, 0.9, "bulk Kubernetes resource deletion"},
	{regexp.MustCompile(`(?i)\bhelm\s+(uninstall|delete)\b`), contracts.SeverityHigh, 0.8, "Helm release removal"},
	// Terraform
	{regexp.MustCompile(`(?i)\bterraform\s+destroy\b.*-auto-approve`), contracts.SeverityCritical, 0.95, "unattended terraform destroy"},
	{regexp.MustCompile(`(?i)\bterraform\s+destroy\b`), contracts.SeverityHigh, 0.9, "terraform destroy"},
	// Git
	{regexp.MustCompile(`(?i)\bgit\s+push\s+\S*\s*--force\b|\bgit\s+push\s+--force\b`), contracts.SeverityHigh, 0.85, "force push rewriting remote history"},
	{regexp.MustCompile(`(?i)\bgit\s+reset\s+--hard\b`), contracts.SeverityHigh, 0.8, "hard reset discarding local changes"},
	{regexp.MustCompile(`(?i)\bgit\s+branch\s+-D\b`), contracts.SeverityMedium, 0.8, "forced branch deletion"},
	{regexp.MustCompile(`(?i)\bgit\s+clean\s+-\w*f`), contracts.SeverityHigh, 0.8, "git clean removing untracked files"},
}

var codePatterns = []destructivePattern{
	{regexp.MustCompile(`shutil\.rmtree\s*\(`), contracts.SeverityHigh, 0.85, "Python recursive directory removal"},
	{regexp.MustCompile(`os\.RemoveAll\s*\(`), contracts.SeverityHigh, 0.85, "Go recursive directory removal"},
	{regexp.MustCompile(`fs\.(rmSync|rm)\s*\([^)]*recursive\s*:\s*true`), contracts.SeverityHigh, 0.85, "Node recursive directory removal"},
	{regexp.MustCompile(`\brimraf\b`), contracts.SeverityHigh, 0.8, "rimraf recursive delete"},
	{regexp.MustCompile(`FileUtils\.rm_rf?\b`), contracts.SeverityHigh, 0.85, "Ruby recursive directory removal"},
	{regexp.MustCompile(`os\.kill\s*\(`), contracts.SeverityMedium, 0.8, "process kill from code"},
	{regexp.MustCompile(`process\.kill\s*\(`), contracts.SeverityMedium, 0.8, "process kill from code"},
	{regexp.MustCompile(`(?i)\bkillall\s+-9\b|\bpkill\s+-9\b`), contracts.SeverityMedium, 0.8, "forced process kill"},
	{regexp.MustCompile(`(?i)\btaskkill\s+/f\b`), contracts.SeverityMedium, 0.8, "forced Windows process kill"},
}

// DestructiveDetector recognizes irreversible shell, cloud, and code
// operations. Its three sub-detectors run over the same flattened input and
// their findings merge with a confidence boost when they corroborate.
type DestructiveDetector struct {
	rule       config.RuleConfig
	shellExtra []*regexp.Regexp
	cloudExtra []*regexp.Regexp
	codeExtra  []*regexp.Regexp
}

// NewDestructiveDetector compiles the user pattern extensions for the
// shell, cloud, and code sub-detectors.
func NewDestructiveDetector(cfg *config.Config, logger *slog.Logger) *DestructiveDetector {
	return &DestructiveDetector{
		rule:       cfg.RuleFor(contracts.CategoryDestructive),
		shellExtra: compilePatterns(cfg.Rules.Shell.Patterns, logger, "rules.shell.patterns"),
		cloudExtra: compilePatterns(cfg.Rules.Cloud.Patterns, logger, "rules.cloud.patterns"),
		codeExtra:  compilePatterns(cfg.Rules.Code.Patterns, logger, "rules.code.patterns"),
	}
}

// Category implements Detector.
func (d *DestructiveDetector) Category() contracts.ThreatCategory {
	return contracts.CategoryDestructive
}

// Detect implements Detector.
func (d *DestructiveDetector) Detect(_ context.Context, call *contracts.ToolCall) *contracts.Detection {
	text := inputText(call)
	if text == "" {
		return nil
	}

	subs := []*contracts.Detection{
		d.detectShell(text),
		d.detectCloud(text),
		d.detectCode(text),
	}
	return applyRuleSeverity(mergeSubResults(subs), d.rule)
}

func (d *DestructiveDetector) detectShell(text string) *contracts.Detection {
	if m := rmPattern.FindStringSubmatch(text); m != nil {
		target := m[rmPattern.SubexpIndex("target")]
		if isDangerousPath(target) {
			return d.finding(contracts.SeverityCritical, 0.98,
				"recursive force-remove of protected path "+target,
				map[string]any{"sub": "shell", "path": target})
		}
		return d.finding(contracts.SeverityHigh, 0.85,
			"recursive force-remove of "+target,
			map[string]any{"sub": "shell", "path": target})
	}
	return d.scanTable(text, shellPatterns, d.shellExtra, "shell")
}

func (d *DestructiveDetector) detectCloud(text string) *contracts.Detection {
	return d.scanTable(text, cloudPatterns, d.cloudExtra, "cloud")
}

func (d *DestructiveDetector) detectCode(text string) *contracts.Detection {
	return d.scanTable(text, codePatterns, d.codeExtra, "code")
}

func (d *DestructiveDetector) scanTable(text string, table []destructivePattern, extra []*regexp.Regexp, sub string) *contracts.Detection {
	for _, p := range table {
		if p.re.MatchString(text) {
			return d.finding(p.severity, p.confidence, p.reason, map[string]any{"sub": sub})
		}
	}
	for _, re := range extra {
		if re.MatchString(text) {
			return d.finding(contracts.SeverityHigh, 0.8,
				"matched user "+sub+" pattern "+re.String(),
				map[string]any{"sub": sub, "pattern": re.String()})
		}
	}
	return nil
}

func (d *DestructiveDetector) finding(sev contracts.Severity, conf float64, reason string, meta map[string]any) *contracts.Detection {
	return &contracts.Detection{
		Category:   contracts.CategoryDestructive,
		Severity:   sev,
		Confidence: conf,
		Reason:     reason,
		Metadata:   meta,
	}
}

func isDangerousPath(target string) bool {
	target = strings.TrimRight(strings.Trim(target, `"'`), "/")
	if target == "" {
		// "rm -rf /" trims to empty.
		return true
	}
	for _, p := range dangerousPaths {
		if target == p || target == strings.TrimRight(p, "/") {
			return true
		}
	}
	// Wildcard wipes of a protected root, e.g. /usr/*.
	if strings.HasSuffix(target, "/*") {
		return isDangerousPath(strings.TrimSuffix(target, "/*"))
	}
	return false
}
