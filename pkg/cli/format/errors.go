package format

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rzbill/lambdeploy/pkg/types"
)

var hints = map[types.ErrorKind]string{
	types.KindConfigNotFound:       "create the environment file, or run `lambdeploy init` for a template",
	types.KindConfigIncomplete:     "add the missing keys to the environment file",
	types.KindPrerequisiteMissing:  "install the missing tools or fix the credentials, then run `lambdeploy check`",
	types.KindAuthenticationFailed: "check the AWS credentials and the registry permissions",
	types.KindPartialPublish:       "the image is in the registry; retry with `lambdeploy publish --activate-only`",
	types.KindTimeout:              "raise the stage timeout in lambdeploy.yaml or retry",
}

// RenderError writes the stage, kind, message and remote diagnostic of err.
func RenderError(w io.Writer, err error) {
	if err == nil {
		return
	}
	var e *types.Error
	if !errors.As(err, &e) {
		fmt.Fprintf(w, "%s %s\n", KindColor.Sprint("Error:"), err)
		return
	}

	stage := string(e.Stage)
	if stage == "" {
		stage = "-"
	}
	if e.Step != "" {
		stage += "/" + e.Step
	}
	fmt.Fprintf(w, "%s %s %s\n", KindColor.Sprint("✗"), StageColor.Sprint(stage), KindColor.Sprint(e.Kind))
	if e.Message != "" {
		fmt.Fprintf(w, "  %s\n", e.Message)
	}
	if e.Cause != nil {
		for _, line := range strings.Split(strings.TrimSpace(e.Cause.Error()), "\n") {
			fmt.Fprintf(w, "  %s\n", CauseColor.Sprint(line))
		}
	}
	if e.ImageRef != "" {
		fmt.Fprintf(w, "  image: %s\n", e.ImageRef)
	}
	if hint, ok := hints[e.Kind]; ok {
		fmt.Fprintf(w, "  %s %s\n", HintColor.Sprint("hint:"), hint)
	}
}
