package utils

// AlerterManifestSource is the appsscript.json manifest injected alongside
// the alerter code. webapp access stays restricted to the installing user.
const AlerterManifestSource = `{
  "timeZone": "Etc/UTC",
  "exceptionLogging": "STACKDRIVER",
  "runtimeVersion": "V8",
  "webapp": {
    "executeAs": "USER_DEPLOYING",
    "access": "MYSELF"
  }
}`

// AlerterScriptSource returns the Apps Script source deployed into the
// user's account. doGet dispatches on the action parameter; handleEdit is
// bound per rule through an installable onEdit trigger and must never
// surface errors to the editing user.
func AlerterScriptSource() string {
	scp := `const SCRIPT_PROPERTIES = PropertiesService.getScriptProperties();

function sendJsonResponse(data) {
  return ContentService.createTextOutput(JSON.stringify(data))
    .setMimeType(ContentService.MimeType.JSON);
}

function doGet(e) {
  try {
    const action = e.parameter.action;

    if (!action) {
      return sendJsonResponse({ status: 'error', message: 'No action specified.' });
    }

    switch (action) {
      case 'list':
        return listRules();
      case 'add':
        return addRule(e.parameter);
      case 'delete':
        return deleteRule(e.parameter);
      default:
        return sendJsonResponse({ status: 'error', message: 'Unknown action: ' + action });
    }
  } catch (error) {
    return sendJsonResponse({ status: 'error', message: error.message, stack: error.stack });
  }
}

function handleEdit(e) {
  try {
    const range = e.range;
    const sheet = range.getSheet();
    const spreadsheet = sheet.getParent();
    const editedCol = range.getColumn();

    const triggerId = e.triggerUid;
    const webhookUrl = SCRIPT_PROPERTIES.getProperty('webhook_' + triggerId);
    const watchCol = SCRIPT_PROPERTIES.getProperty('column_' + triggerId);

    if (webhookUrl && watchCol && parseInt(watchCol, 10) === editedCol) {
      const cellValue = range.getValue();
      const sheetName = sheet.getName();
      const spreadsheetName = spreadsheet.getName();

      const payload = {
        text: ` + "`" + `🔔 *Sheet alert!*\n\n*Sheet*: ${spreadsheetName} (${sheetName})\n*Cell*: ${range.getA1Notation()}\n*New value*: ${cellValue}` + "`" + `
      };

      const options = {
        method: 'post',
        contentType: 'application/json',
        payload: JSON.stringify(payload)
      };

      UrlFetchApp.fetch(webhookUrl, options);
    }
  } catch (err) {
    // Fail silently so the user never gets error mail for every edit.
    console.error('Edit trigger handling failed: ' + err.toString());
  }
}

function listRules() {
  const triggers = ScriptApp.getProjectTriggers();
  const rules = triggers.map(trigger => {
    if (trigger.getEventType() !== ScriptApp.EventType.ON_EDIT) return null;
    const triggerId = trigger.getUniqueId();
    const spreadsheetId = trigger.getTriggerSourceId();
    if (spreadsheetId) {
      return {
        triggerId: triggerId,
        spreadsheetId: spreadsheetId,
        spreadsheetUrl: 'https://docs.google.com/spreadsheets/d/' + spreadsheetId + '/',
        sheetName: SCRIPT_PROPERTIES.getProperty('sheetName_' + triggerId) || 'N/A',
        column: SCRIPT_PROPERTIES.getProperty('column_' + triggerId) || 'N/A',
        webhookUrl: SCRIPT_PROPERTIES.getProperty('webhook_' + triggerId) || 'N/A',
      };
    }
    return null;
  }).filter(Boolean);

  return sendJsonResponse({ status: 'success', data: rules });
}

function addRule(params) {
  const { sheetUrl, sheetName, column, webhookUrl } = params;

  if (!sheetUrl || !sheetName || !column || !webhookUrl) {
    throw new Error('Missing required parameters for adding a rule.');
  }

  const spreadsheet = SpreadsheetApp.openByUrl(sheetUrl);
  const sheet = spreadsheet.getSheetByName(sheetName);

  if (!sheet) {
    throw new Error('Sheet "' + sheetName + '" was not found in the spreadsheet.');
  }

  const trigger = ScriptApp.newTrigger('handleEdit')
    .forSpreadsheet(spreadsheet)
    .onEdit()
    .create();

  const triggerId = trigger.getUniqueId();

  SCRIPT_PROPERTIES.setProperty('webhook_' + triggerId, webhookUrl);
  SCRIPT_PROPERTIES.setProperty('column_' + triggerId, column);
  SCRIPT_PROPERTIES.setProperty('sheetName_' + triggerId, sheetName);

  return sendJsonResponse({ status: 'success', message: 'Rule added successfully!', data: { triggerId: triggerId } });
}

function deleteRule(params) {
  const { triggerId } = params;

  if (!triggerId) {
    throw new Error('Missing triggerId for deleting a rule.');
  }

  const triggers = ScriptApp.getProjectTriggers();
  let triggerFound = false;

  for (let i = 0; i < triggers.length; i++) {
    if (triggers[i].getUniqueId() === triggerId) {
      ScriptApp.deleteTrigger(triggers[i]);
      triggerFound = true;
      break;
    }
  }

  if (!triggerFound) {
    // The trigger may be left over from an earlier failed delete; clean up
    // the properties regardless.
    console.log('Trigger ' + triggerId + ' not found, cleaning up its properties anyway.');
  }

  SCRIPT_PROPERTIES.deleteProperty('webhook_' + triggerId);
  SCRIPT_PROPERTIES.deleteProperty('column_' + triggerId);
  SCRIPT_PROPERTIES.deleteProperty('sheetName_' + triggerId);

  return sendJsonResponse({ status: 'success', message: 'Rule deleted successfully!' });
}`

	return scp
}
