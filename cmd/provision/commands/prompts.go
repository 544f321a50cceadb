package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/nerrad567/dispenser-core/internal/claim"
	"github.com/nerrad567/dispenser-core/internal/devicecfg"
	"github.com/nerrad567/dispenser-core/internal/wizard"
)

var alarmModeOptions = []huh.Option[devicecfg.UIAlarmMode]{
	huh.NewOption("Sound and vibration", devicecfg.UIAlarmBoth),
	huh.NewOption("Sound only", devicecfg.UIAlarmSound),
	huh.NewOption("Vibration and light only", devicecfg.UIAlarmVibrate),
	huh.NewOption("Silent", devicecfg.UIAlarmSilent),
}

// huhPrompter asks for input with huh forms.
type huhPrompter struct {
	accessible bool
}

func (p huhPrompter) run(ctx context.Context, group *huh.Group) error {
	return huh.NewForm(group).WithAccessible(p.accessible).RunWithContext(ctx)
}

func (p huhPrompter) ConfirmResume(ctx context.Context, saved *wizard.Progress) (bool, error) {
	resume := true
	err := p.run(ctx, huh.NewGroup(
		huh.NewConfirm().
			Title("Resume setup?").
			Description(fmt.Sprintf("Saved at step %d of %d on %s",
				saved.CurrentStepIndex+1, saved.TotalSteps, saved.SavedAt().Format(time.DateTime))).
			Affirmative("Resume").
			Negative("Start over").
			Value(&resume),
	))
	return resume, err
}

func (p huhPrompter) DeviceID(ctx context.Context, current string) (string, error) {
	id := current
	err := p.run(ctx, huh.NewGroup(
		huh.NewInput().
			Title("Device ID").
			Description("Printed on the label under the dispenser").
			Value(&id).
			Validate(claim.ValidateFormat),
	).Title(wizard.StepDeviceID.Label()))
	return id, err
}

func (p huhPrompter) WiFi(ctx context.Context, currentSSID string) (string, string, error) {
	ssid := currentSSID
	var password string
	err := p.run(ctx, huh.NewGroup(
		huh.NewInput().
			Title("Network name").
			Value(&ssid).
			Validate(func(s string) error { return devicecfg.ValidateWiFi(s, "") }),
		huh.NewInput().
			Title("Password").
			Description("Leave empty for an open network").
			EchoMode(huh.EchoModePassword).
			Value(&password).
			Validate(func(pw string) error { return devicecfg.ValidateWiFi(ssid, pw) }),
	).Title(wizard.StepWiFi.Label()))
	return ssid, password, err
}

func (p huhPrompter) Preferences(ctx context.Context, form wizard.FormData) (devicecfg.Preferences, int, error) {
	mode := form.AlarmMode
	intensity := strconv.Itoa(form.LEDIntensity)
	color := form.LEDColor
	volume := strconv.Itoa(form.Volume)

	err := p.run(ctx, huh.NewGroup(
		huh.NewSelect[devicecfg.UIAlarmMode]().
			Title("Alarm").
			Description("How the dispenser signals a due dose").
			Options(alarmModeOptions...).
			Value(&mode),
		huh.NewInput().
			Title("Light brightness (%)").
			Value(&intensity).
			Validate(percent),
		huh.NewInput().
			Title("Light colour").
			Description("#rrggbb").
			Value(&color).
			Validate(func(s string) error {
				_, err := devicecfg.ParseHex(s)
				return err
			}),
		huh.NewInput().
			Title("Volume (%)").
			Value(&volume).
			Validate(percent),
	).Title(wizard.StepPreferences.Label()))
	if err != nil {
		return devicecfg.Preferences{}, 0, err
	}

	i, _ := strconv.Atoi(intensity) //nolint:errcheck // checked by percent
	v, _ := strconv.Atoi(volume)    //nolint:errcheck // checked by percent
	return devicecfg.Preferences{AlarmMode: mode, LEDIntensity: i, LEDColor: color}, v, nil
}

func (p huhPrompter) Retry(ctx context.Context, message string) (bool, error) {
	again := true
	err := p.run(ctx, huh.NewGroup(
		huh.NewConfirm().
			Title(message).
			Affirmative("Try again").
			Negative("Go back").
			Value(&again),
	))
	return again, err
}

func (p huhPrompter) ConfirmExit(ctx context.Context) (bool, error) {
	var leave bool
	err := p.run(ctx, huh.NewGroup(
		huh.NewConfirm().
			Title("Leave setup?").
			Description("Your progress is saved and can be resumed later.").
			Affirmative("Leave").
			Negative("Stay").
			Value(&leave),
	))
	return leave, err
}

// percent accepts whole numbers from 0 to 100.
func percent(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 100 {
		return fmt.Errorf("enter a number from 0 to 100")
	}
	return nil
}
